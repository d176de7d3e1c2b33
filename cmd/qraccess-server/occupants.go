package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
)

// longStay marks occupants inside for longer than a working day.
const longStay = 10 * 60

func printOccupants(w io.Writer, occ []service.PresenceRecord, loc *time.Location) {
	header := color.New(color.Bold)
	visitor := color.New(color.FgYellow)
	member := color.New(color.FgGreen)
	stale := color.New(color.FgRed)

	header.Fprintf(w, "%-14s %-28s %-15s %-6s %s\n", "DOCUMENT", "NAME", "ROLE", "SINCE", "MINUTES")
	for _, o := range occ {
		role := member
		if o.Person.Role == model.RoleVisitor {
			role = visitor
		}
		minutes := fmt.Sprintf("%d", o.ElapsedMinutes)
		if o.ElapsedMinutes > longStay {
			minutes = stale.Sprint(minutes)
		}
		fmt.Fprintf(w, "%-14s %-28s %s %-6s %s\n",
			o.Person.DocumentNumber,
			o.Person.DisplayName,
			role.Sprintf("%-15s", o.Person.Role),
			o.EnteredAt.In(loc).Format("15:04"),
			minutes)
	}
	header.Fprintf(w, "%d inside\n", len(occ))
}
