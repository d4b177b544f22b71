package model

import "errors"

// ErrChannelNotFound 频道不存在
var ErrChannelNotFound = errors.New("channel not found")
