package router

import (
	"fmt"
	"strings"
	"time"

	"megabuddies/internal/broadcast"
	"megabuddies/internal/stats"
	"megabuddies/internal/whitelist"
)

const timeRound = 100 * time.Millisecond

const (
	msgGenericFailure   = "Something went wrong, please try again later."
	msgUnknownCommand   = "Unknown command. Use /help to see what I can do."
	msgUnauthorized     = "You are not allowed to use this command."
	msgBroadcastInvalid = "The broadcast message is empty or too long."
	msgImportBadHeader  = "That file does not look like a whitelist CSV: the first row must be the header \"value\"."
)

func usage(u string) string {
	return "Usage: " + u
}

func renderCheck(res whitelist.CheckResult) string {
	switch res.Status {
	case whitelist.CheckPresent:
		return "You are on the whitelist! ✅"
	case whitelist.CheckAbsent:
		return "You are not on the whitelist. ❌"
	default:
		return "I cannot check that value: " + res.Reason + "."
	}
}

func renderAdd(res whitelist.AddResult) string {
	switch res.Status {
	case whitelist.Added:
		return fmt.Sprintf("Value %q added to the whitelist.", res.Value)
	case whitelist.AlreadyPresent:
		return fmt.Sprintf("Value %q is already on the whitelist.", res.Value)
	default:
		return "I cannot add that value: " + res.Reason + "."
	}
}

func renderRemove(res whitelist.RemoveResult) string {
	switch res.Status {
	case whitelist.Removed:
		return fmt.Sprintf("Value %q removed from the whitelist.", res.Value)
	case whitelist.NotFound:
		return fmt.Sprintf("Value %q is not on the whitelist.", res.Value)
	default:
		return "I cannot remove that value: " + res.Reason + "."
	}
}

func renderList(p whitelist.Page) string {
	if p.Total == 0 {
		return "The whitelist is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Whitelist entries (page %d, %d total):\n", p.Page, p.Total)
	start := (p.Page-1)*p.PageSize + 1
	for i, e := range p.Entries {
		fmt.Fprintf(&b, "%d. %s\n", start+i, e.Value)
	}
	if len(p.Entries) == 0 {
		b.WriteString("(no entries on this page)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStats(rep stats.Report, active []broadcast.Report) string {
	c := rep.Counters
	var b strings.Builder
	b.WriteString("Bot statistics:\n")
	fmt.Fprintf(&b, "Users: %d\n", c.TotalUsers)
	fmt.Fprintf(&b, "Whitelist entries: %d\n", c.EntriesCount)
	fmt.Fprintf(&b, "Checks: %d (hits %d, misses %d, invalid %d)\n",
		c.TotalChecks, c.TotalHits, c.TotalMisses, c.InvalidChecks)
	if len(rep.TopUsers) > 0 {
		b.WriteString("Most active users:\n")
		for i, u := range rep.TopUsers {
			name := u.DisplayName
			if name == "" {
				name = fmt.Sprintf("id %d", u.ID)
			}
			fmt.Fprintf(&b, "%d. %s - %d checks\n", i+1, name, u.CheckCount)
		}
	}
	for _, job := range active {
		fmt.Fprintf(&b, "Broadcast %s: %s, %d attempted\n", job.ID, job.Status, job.Attempted)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBroadcastReport(rep broadcast.Report) string {
	status := "finished"
	if rep.Status == broadcast.StatusCancelled {
		status = "cancelled"
	}
	return fmt.Sprintf("Broadcast %s %s in %s.\nAttempted: %d\nDelivered: %d\nFailed: %d\nSkipped (blocked): %d",
		rep.ID, status, rep.Duration.Round(timeRound), rep.Attempted, rep.Delivered, rep.Failed, rep.Skipped)
}

func renderImportReport(rep whitelist.ImportReport) string {
	return fmt.Sprintf("Import finished.\nInserted: %d\nDuplicates: %d\nInvalid: %d\nParse errors: %d",
		rep.Inserted, rep.Duplicates, rep.Invalid, rep.ParseErrors)
}
