package sl

import (
	"fmt"
	"log/slog"
	"unicode/utf8"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Secret returns a string with the first 5 characters of the input string
// used to hide sensitive information in logs
func Secret(some string) slog.Attr {
	r := "***"
	if len(some) > 5 {
		r = fmt.Sprintf("%s***", some[0:5])
	}
	if some == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   "secret",
		Value: slog.StringValue(r),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

// Invocation tags log records belonging to one workflow run
func Invocation(id string) slog.Attr {
	return slog.Attr{
		Key:   "invocation",
		Value: slog.StringValue(id),
	}
}

// Short trims long user text before it goes into a log record
func Short(key, text string) slog.Attr {
	if utf8.RuneCountInString(text) > 50 {
		text = string([]rune(text)[:50]) + "..."
	}
	return slog.String(key, text)
}
