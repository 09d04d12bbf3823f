package utils

import "github.com/google/uuid"

// GenChatID returns a new opaque chat id.
func GenChatID() string { return "c" + uuid.NewString() }

// GenMessageID returns a new opaque message id.
func GenMessageID() string { return "m" + uuid.NewString() }
