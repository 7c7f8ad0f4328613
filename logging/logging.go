// Package logging builds the zap loggers used across LayerDB.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	// LevelNone disables logging
	LevelNone = "none"
)

// GetLogger returns a zap logger with the specified level
func GetLogger(level string) (*zap.Logger, error) {
	if level == LevelNone || level == "" {
		return zap.NewNop(), nil
	}
	zapConfig := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.Encoding = "console"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapConfig.Build()
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(level string) *zap.Logger {
	l, err := GetLogger(level)
	if err != nil {
		panic(err)
	}
	return l
}

// Field names shared by every component.
const (
	FieldRepository = "repository"
	FieldImage      = "image"
	FieldObjectID   = "object_id"
	FieldTable      = "table"
	FieldStep       = "step"
	FieldRun        = "run"
)

func Repository(name string) zap.Field { return zap.String(FieldRepository, name) }
func Image(hash string) zap.Field      { return zap.String(FieldImage, hash) }
func ObjectID(id string) zap.Field     { return zap.String(FieldObjectID, id) }
func Table(name string) zap.Field      { return zap.String(FieldTable, name) }
func Step(n int) zap.Field             { return zap.Int(FieldStep, n) }
func Run(id string) zap.Field          { return zap.String(FieldRun, id) }
