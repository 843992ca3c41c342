package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/xraph/remittance/types"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeStatus prints amounts in major units at the given scale with the
// smallest-unit value alongside.
func writeStatus(w io.Writer, r statusReport, decimals int32) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "driver:\t%s\n", r.Driver)
	if !r.Initialized {
		fmt.Fprintf(tw, "initialized:\tno (run serve with remittance.owner set)\n")
		return tw.Flush()
	}

	st := r.State
	fmt.Fprintf(tw, "initialized:\tyes\n")
	fmt.Fprintf(tw, "paused:\t%t\n", st.Paused)
	fmt.Fprintf(tw, "fee percentage:\t%d\n", st.FeePercentage)
	fmt.Fprintf(tw, "treasury balance:\t%s\n", money(st.TreasuryBalance, decimals))
	fmt.Fprintf(tw, "owners:\t%s\n", strings.Join(r.Owners, ", "))
	fmt.Fprintf(tw, "events:\t%d\n", st.EventSeq)

	if rep := r.Reconcile; rep != nil {
		fmt.Fprintf(tw, "payments:\t%d (%d unclaimed)\n", rep.Payments, rep.Unclaimed)
		fmt.Fprintf(tw, "deposited:\t%s\n", money(rep.Deposited, decimals))
		fmt.Fprintf(tw, "claimed:\t%s\n", money(rep.Claimed, decimals))
		fmt.Fprintf(tw, "withdrawn:\t%s\n", money(rep.Withdrawn, decimals))
		fmt.Fprintf(tw, "escrowed:\t%s (%s stranded)\n", money(rep.Escrowed, decimals), rep.Stranded.Format(decimals))
		fmt.Fprintf(tw, "balanced:\t%t\n", rep.Balanced())
		for _, d := range rep.Discrepancies {
			fmt.Fprintf(tw, "  discrepancy:\t%s\n", d)
		}
	}
	return tw.Flush()
}

func money(a types.Amount, decimals int32) string {
	return fmt.Sprintf("%s (%d units)", a.Format(decimals), a.Int64())
}
