// Command pipetrack records and queries provenance for pipeline artifacts.
//
// Stage programs call "pipetrack register" and "pipetrack log-op" as they
// produce files; operators use the query commands (find, show, history,
// search, summary, chain) and the maintenance commands (backup, export,
// import, recover, health). Every command opens the shared record store
// directly; there is no daemon.
//
// Exit codes: 0 success, 2 invalid input, 3 not found, 4 busy, 5 corrupt,
// 6 ambiguous match, 1 anything else. register and log-op exit 0 on tracking
// failures unless --strict is given.
package main
