// =============================================================================
// Payment Import - Main Entry Point
// =============================================================================
//
// USAGE:
//   payimport import --file F   - Preview (and optionally commit) a workbook
//   payimport serve             - Run the operator HTTP API
//   payimport health            - Probe the loan-servicing service
//   payimport version           - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Import pipeline (not for external import)
//   - pkg/       : Shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/payment-import/cmd"
)

func main() {
	cmd.Execute()
}
