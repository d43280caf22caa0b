package main

import (
	"fmt"
	"time"
)

type Config struct {
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=5000"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	OutboxSize        int           `env:"OUTBOX_SIZE,default=64"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	HistoryReplay     int           `env:"HISTORY_REPLAY,default=50"`
	MaxFileBytes      int64         `env:"MAX_FILE_BYTES,default=5242880"`
	ModerationEnabled bool          `env:"MODERATION_ENABLED,default=false"`
	ModerationMask    string        `env:"MODERATION_MASK,default=*"`
	DebugPort         int           `env:"DEBUG_PORT"`
}

func maskRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf("MODERATION_MASK must be a single character, got %q", str)
	}
	return r[0], nil
}
