package tools

import (
	"time"

	"github.com/google/uuid"
)

func newEventID() string {
	return uuid.NewString()
}

func nowUnix() int64 {
	return time.Now().Unix()
}
