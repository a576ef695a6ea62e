// Package fine computes late-return penalties. Amounts are integer cents;
// partial days do not count.
package fine

import "time"

// Calculate returns the whole days a return is overdue and the resulting
// fine. Returning on or before the due date yields zero.
func Calculate(dueDate, returnedAt time.Time, dailyRateCents int64) (daysOverdue int, amountCents int64) {
	if !returnedAt.After(dueDate) {
		return 0, 0
	}
	daysOverdue = int(returnedAt.Sub(dueDate).Hours() / 24)
	return daysOverdue, int64(daysOverdue) * dailyRateCents
}
