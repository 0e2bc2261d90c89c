package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-print"
)

// AuditCmd reads the audit log.
type AuditCmd struct {
	List AuditListCmd `cmd:"" help:"List recent audit entries"`
}

type AuditListCmd struct {
	Principal string `help:"only entries of this principal id"`
	Limit     int    `help:"number of entries" default:"50"`
	JSON      bool   `help:"print entries as JSON"`
}

func (a *AuditListCmd) Run(ctx context.Context, globals *Globals) error {
	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := auth.ListAudit(ctx, db, a.Principal, a.Limit)
	if err != nil {
		return fmt.Errorf("failed to list audit log: %w", err)
	}

	if a.JSON {
		fmt.Println(print.MaybePrettyJSON(entries))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OCCURRED\tPRINCIPAL\tACTION\tENTITY")
	for _, e := range entries {
		principal := e.PrincipalID
		if principal == "" {
			principal = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), principal, e.Action, e.Entity)
	}
	return w.Flush()
}
