package logx

// Package logx wraps zerolog behind a small Logger/Field API so services can
// hold a logger value that stays live across runtime config reloads.
