package logger

import (
	"go.uber.org/zap"
)

// RecordID tags an entry with the record identifier.
func RecordID(v string) zap.Field { return zap.String("record_id", v) }

// Role tags an entry with a record role.
func Role(v string) zap.Field { return zap.String("role", v) }

// Op tags an entry with the operation name.
func Op(v string) zap.Field { return zap.String("op", v) }

// Driver tags an entry with a storage or cache driver.
func Driver(v string) zap.Field { return zap.String("driver", v) }

// Count tags an entry with a result size.
func Count(n int) zap.Field { return zap.Int("count", n) }

// Err attaches an error; nil errors are skipped.
func Err(err error) zap.Field { return zap.Error(err) }
