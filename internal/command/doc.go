// Package command implements the interactive command surface of the chat
// REPL.
//
// A Router dispatches slash input ("/model gpt-4o") to builtin and plugin
// actions. Input is tokenized with single and double quote grouping, the
// first token selects the action by id or alias (case-insensitive), and the
// rest become its arguments. Actions that are not allowed during a turn are
// refused while the host reports an active turn.
//
// Builtin actions:
//
//	/new [--provider <id>] [--model <id>]   (n)
//	/sessions                               (ls)
//	/use <id>                               (session)
//	/model <id>                             (m)
//	/abort
//	/help                                   (?)
//	/exit                                   (quit, q)
//
// TurnQueue serializes prompts typed while a turn is streaming: the first
// prompt starts immediately and later ones wait in FIFO order.
package command
