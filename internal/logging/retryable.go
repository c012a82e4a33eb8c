package logging

import "go.uber.org/zap"

// Leveled adapts a sugared logger to retryablehttp.LeveledLogger.
type Leveled struct{ S *zap.SugaredLogger }

func (l Leveled) Error(msg string, kv ...interface{}) { l.S.Errorw(msg, kv...) }
func (l Leveled) Warn(msg string, kv ...interface{})  { l.S.Warnw(msg, kv...) }
func (l Leveled) Info(msg string, kv ...interface{})  { l.S.Debugw(msg, kv...) }
func (l Leveled) Debug(msg string, kv ...interface{}) { l.S.Debugw(msg, kv...) }
