package manager

import "time"

// NextDueDate вычисляет следующий срок по шаблону повторения.
// Чистая функция: зависит только от anchor, время суток сохраняется.
func NextDueDate(anchor time.Time, pattern RecurrencePattern) time.Time {
	switch pattern {
	case RecurrenceDaily:
		return anchor.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		return anchor.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		// AddDate нормализует 31 января в 3 марта, поэтому
		// день месяца прижимаем к последнему дню целевого месяца вручную
		year, month, day := anchor.Date()
		last := daysInMonth(year, month+1)
		if day > last {
			day = last
		}
		return time.Date(year, month+1, day,
			anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
	}
	return anchor
}

// daysInMonth - число дней в месяце (month может выходить за 12, time.Date нормализует)
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ShouldGenerate решает, создавать ли следующий экземпляр.
// Дата окончания включительна и сравнивается по календарным дням:
// экземпляр, попадающий ровно на дату окончания, ещё создаётся.
func ShouldGenerate(anchor time.Time, pattern RecurrencePattern, endDate *time.Time) bool {
	if endDate == nil {
		return true
	}
	next := NextDueDate(anchor, pattern)
	return !dateOf(next).After(dateOf(*endDate))
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NextInstance строит следующий экземпляр повторяющейся задачи
// при её выполнении. Возвращает nil, если создавать нечего
// (задача не повторяющаяся или достигнута дата окончания).
func NextInstance(parent *Task, now time.Time) *Task {
	if !parent.IsRecurring || parent.DueDate == nil {
		return nil
	}
	if !ShouldGenerate(*parent.DueDate, parent.RecurrencePattern, parent.RecurrenceEndDate) {
		return nil
	}

	next := NextDueDate(*parent.DueDate, parent.RecurrencePattern)
	parentID := parent.ID

	child := &Task{
		UserID:            parent.UserID,
		Title:             parent.Title,
		Description:       parent.Description,
		Priority:          parent.Priority,
		Tags:              append([]string(nil), parent.Tags...),
		DueDate:           &next,
		IsRecurring:       true,
		RecurrencePattern: parent.RecurrencePattern,
		RecurrenceEndDate: parent.RecurrenceEndDate,
		ParentTaskID:      &parentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return child
}
