package xlsxparser

import (
	"github.com/ginjaninja78/payment-import/internal/normalize"
)

// Older five-column templates put either the loan id or the reconciliation
// flag in column E. The column is a flag column only when every non-empty
// value belongs to the flag vocabulary; otherwise it holds loan ids. The
// decision is taken once per file.

var flagVocabulary = map[string]struct{}{
	"SI": {},
	"NO": {},
	"1":  {},
	"0":  {},
}

// sniffFifthColumn decides what column E of a five-column sheet holds.
func sniffFifthColumn(data [][]string) Layout {
	seen := false
	for _, row := range data {
		if ColLoanID >= len(row) {
			continue
		}
		// Token folds SÍ onto SI.
		v := normalize.Token(row[ColLoanID])
		if v == "" {
			continue
		}
		if _, ok := flagVocabulary[v]; !ok {
			return Layout{LoanIDCol: ColLoanID, FlagCol: -1, Sniffed: true}
		}
		seen = true
	}
	if !seen {
		// Blank column: nothing to link, nothing to flag.
		return Layout{LoanIDCol: ColLoanID, FlagCol: -1, Sniffed: true}
	}
	return Layout{LoanIDCol: -1, FlagCol: ColLoanID, Sniffed: true}
}
