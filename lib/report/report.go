package report

import (
	"fmt"
	"strings"

	"sproutsclip/lib/scrapers/sprouts"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Counts struct {
	Total          int
	ClippedNow     int
	AlreadyClipped int
	Skipped        int
	Failed         int
}

func Count(outcomes []sprouts.ClipOutcome) Counts {
	c := Counts{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case sprouts.StatusClippedNow:
			c.ClippedNow++
		case sprouts.StatusAlreadyClipped:
			c.AlreadyClipped++
		case sprouts.StatusSkipped:
			c.Skipped++
		case sprouts.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// listing cutoff so a large catalog doesn't produce an unreadable email
const maxListed = 20

// Build renders the plain-text report body sent by email.
func Build(session *sprouts.Session, outcomes []sprouts.ClipOutcome) string {
	c := Count(outcomes)

	var b strings.Builder
	b.WriteString("Sprouts Coupons Report\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	if session != nil {
		fmt.Fprintf(&b, "Shopper: %s (%s)\n", session.ShopperName, session.StoreName)
	}
	fmt.Fprintf(&b, "Total offers: %d\n", c.Total)
	fmt.Fprintf(&b, "Newly clipped: %d\n", c.ClippedNow)
	fmt.Fprintf(&b, "Already clipped: %d\n", c.AlreadyClipped)
	fmt.Fprintf(&b, "Skipped: %d\n", c.Skipped)
	fmt.Fprintf(&b, "Failed: %d\n\n", c.Failed)

	writeSection(&b, "Newly Clipped", outcomes, sprouts.StatusClippedNow)
	writeSection(&b, "Failed", outcomes, sprouts.StatusFailed)
	writeSection(&b, "Skipped", outcomes, sprouts.StatusSkipped)

	return b.String()
}

func writeSection(b *strings.Builder, title string, outcomes []sprouts.ClipOutcome, status sprouts.ClipStatus) {
	var matched []sprouts.ClipOutcome
	for _, o := range outcomes {
		if o.Status == status {
			matched = append(matched, o)
		}
	}
	if len(matched) == 0 {
		return
	}

	b.WriteString(title + ":\n")
	b.WriteString(strings.Repeat("-", 20) + "\n")
	for i, o := range matched {
		if i == maxListed {
			fmt.Fprintf(b, "  ... and %d more\n", len(matched)-maxListed)
			break
		}
		if o.Detail != "" {
			fmt.Fprintf(b, "  - %s (%s)\n", o.Name, o.Detail)
		} else {
			fmt.Fprintf(b, "  - %s\n", o.Name)
		}
	}
	b.WriteString("\n")
}

// Table renders the per-offer outcome listing for console output under
// --dry-run.
func Table(outcomes []sprouts.ClipOutcome) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Offer", "Status", "Detail"})
	for _, o := range outcomes {
		t.AppendRow(table.Row{o.Name, string(o.Status), o.Detail})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d offers", len(outcomes)), "", ""})
	return t.Render()
}

// Subject builds the email subject line for a completed run.
func Subject(outcomes []sprouts.ClipOutcome) string {
	c := Count(outcomes)
	return fmt.Sprintf("Sprouts coupons: %d clipped", c.ClippedNow)
}
