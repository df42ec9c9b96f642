// Package logx is feebot's logging layer on top of zerolog.
//
// Loggers are cheap values. A Logger obtained from a Service follows every
// Service.Apply, so outputs and level can change while the bot runs. Records
// at or above a configured level can additionally be forwarded to an
// operator chat through a Sender.
package logx
