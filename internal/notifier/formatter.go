package notifier

import (
	"fmt"
	"html"
	"strings"

	"ExchangeObserver/internal/model"
)

// FormatMonitorAlert formats a debt monitor change into a Telegram message.
func FormatMonitorAlert(entry model.DebtMonitorEntry, resolved bool) string {
	var b strings.Builder
	if resolved {
		b.WriteString(fmt.Sprintf("✅ <b>Resolved</b> | %s\n\n", html.EscapeString(entry.Symbol)))
		b.WriteString(fmt.Sprintf("Previous reason: %s\n", html.EscapeString(entry.Reason)))
		return b.String()
	}

	icon := "⚠️"
	if entry.Reason == model.ReasonError {
		icon = "❌"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b> | %s\n\n", icon, html.EscapeString(entry.Reason), html.EscapeString(entry.Symbol)))
	b.WriteString(fmt.Sprintf("Amount: %s\n", entry.Amount.String()))
	b.WriteString(fmt.Sprintf("Category: %s\n", entry.Category))
	if entry.Comment != "" {
		b.WriteString(fmt.Sprintf("Detail: %s\n", html.EscapeString(entry.Comment)))
	}
	if !entry.UpdatedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Updated: %s UTC\n", entry.UpdatedAt.UTC().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// FormatMonitorList formats all open monitor entries.
func FormatMonitorList(entries []model.DebtMonitorEntry) string {
	if len(entries) == 0 {
		return "✅ No unresolved debt"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 <b>Debt monitor</b> (%d)\n\n", len(entries)))
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("• %s: %s (%s)\n", html.EscapeString(e.Symbol), e.Amount.String(), html.EscapeString(e.Reason)))
	}
	return b.String()
}

// FormatTransfers formats recent ledger records, newest first.
func FormatTransfers(records []model.TransferRecord) string {
	if len(records) == 0 {
		return "No transfers recorded"
	}
	var b strings.Builder
	b.WriteString("💸 <b>Recent transfers</b>\n\n")
	for _, r := range records {
		b.WriteString(fmt.Sprintf("#%d %s %s %s → %s",
			r.ID, r.CreatedAt.UTC().Format("01-02 15:04"), r.Amount.String()+" "+html.EscapeString(r.Asset), r.Source, r.Destination))
		if r.Fee.IsPositive() {
			b.WriteString(fmt.Sprintf(" (fee %s)", r.Fee.String()))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatCycleFailure formats a job tick that failed before processing positions.
func FormatCycleFailure(job string, err error) string {
	return fmt.Sprintf("❌ <b>%s cycle failed</b>\n\n%s", html.EscapeString(job), html.EscapeString(err.Error()))
}
