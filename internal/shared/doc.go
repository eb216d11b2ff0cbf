// Package shared holds helpers used by more than one pipeline package.
//
// The testutil subpackage provides the slog capture handler and builders for
// instrument export workbooks:
//
//	func TestParser(t *testing.T) {
//	    logger, handler := testutil.NewTestLogger(t)
//	    path := testutil.WriteAssayWorkbook(t, t.TempDir(), "P1_1_plate.xlsx", testutil.LinearTab("IL-6"))
//	    ...
//	}
package shared
