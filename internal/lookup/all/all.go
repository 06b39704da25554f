// Package all enables every lookup loader kind. Import it for side effects:
//
//	import _ "tabsplit/internal/lookup/all"
//
// The "table" kind is built into the lookup package; this adds "sqlite",
// "mssql", "mysql" (tabsplit/internal/lookup/sqlsrc) and "postgres"
// (tabsplit/internal/lookup/postgres).
package all

import (
	_ "tabsplit/internal/lookup/postgres"
	_ "tabsplit/internal/lookup/sqlsrc"
)
