package ipc

import (
	"fmt"
	"strconv"
	"strings"

	"voltask/pkg/errors"
)

// Process control vocabulary, client to worker.
const (
	MsgQuit          = "<quit/>"
	MsgSuspend       = "<suspend/>"
	MsgResume        = "<resume/>"
	MsgAbort         = "<abort/>"
	MsgRereadAppInfo = "<reread_app_info/>"
	MsgRereadPrefs   = "<reread_prefs/>"
)

// Trickle and upload notifications.
const (
	MsgHaveNewTrickleUp  = "<have_new_trickle_up/>"
	MsgHaveNewUploadFile = "<have_new_upload_file/>"
	MsgHaveTrickleDown   = "<have_trickle_down/>"
)

// GraphicsMode is a graphics-channel request or reply.
type GraphicsMode string

const (
	ModeUnsupported  GraphicsMode = "<mode_unsupported/>"
	ModeHideGraphics GraphicsMode = "<mode_hide_graphics/>"
	ModeWindow       GraphicsMode = "<mode_window/>"
	ModeFullscreen   GraphicsMode = "<mode_fullscreen/>"
	ModeBlankscreen  GraphicsMode = "<mode_blankscreen/>"
)

// GraphicsModes lists every known mode.
var GraphicsModes = []GraphicsMode{
	ModeUnsupported, ModeHideGraphics, ModeWindow, ModeFullscreen, ModeBlankscreen,
}

// ParseGraphicsMode finds a known mode tag in msg.
func ParseGraphicsMode(msg string) (GraphicsMode, bool) {
	for _, m := range GraphicsModes {
		if strings.Contains(msg, string(m)) {
			return m, true
		}
	}
	return "", false
}

// Status field tags.
const (
	TagCurrentCPUTime    = "current_cpu_time"
	TagCheckpointCPUTime = "checkpoint_cpu_time"
	TagWorkingSetSize    = "working_set_size"
	TagFractionDone      = "fraction_done"
)

// StatusMessage is the decoded content of an app_status message. Has* report
// which fields were present.
type StatusMessage struct {
	CurrentCPUTime    float64
	CheckpointCPUTime float64
	WorkingSetSize    float64
	FractionDone      float64

	HasCurrentCPUTime    bool
	HasCheckpointCPUTime bool
	HasWorkingSetSize    bool
	HasFractionDone      bool
}

// Format encodes the status the way a worker sends it.
func (s StatusMessage) Format() string {
	var b strings.Builder
	writeDouble(&b, TagCurrentCPUTime, s.CurrentCPUTime)
	writeDouble(&b, TagCheckpointCPUTime, s.CheckpointCPUTime)
	writeDouble(&b, TagWorkingSetSize, s.WorkingSetSize)
	writeDouble(&b, TagFractionDone, s.FractionDone)
	return b.String()
}

func writeDouble(b *strings.Builder, tag string, v float64) {
	b.WriteString("<" + tag + ">")
	b.WriteString(strconv.FormatFloat(v, 'e', -1, 64))
	b.WriteString("</" + tag + ">\n")
}

// ParseStatusMessage decodes an app_status message. A tag whose value is not a
// number makes the whole message malformed.
func ParseStatusMessage(msg string) (StatusMessage, error) {
	var s StatusMessage
	var err error
	if s.CurrentCPUTime, s.HasCurrentCPUTime, err = ParseDouble(msg, TagCurrentCPUTime); err != nil {
		return StatusMessage{}, err
	}
	if s.CheckpointCPUTime, s.HasCheckpointCPUTime, err = ParseDouble(msg, TagCheckpointCPUTime); err != nil {
		return StatusMessage{}, err
	}
	if s.WorkingSetSize, s.HasWorkingSetSize, err = ParseDouble(msg, TagWorkingSetSize); err != nil {
		return StatusMessage{}, err
	}
	if s.FractionDone, s.HasFractionDone, err = ParseDouble(msg, TagFractionDone); err != nil {
		return StatusMessage{}, err
	}
	return s, nil
}

// HeartbeatInfo is carried by heartbeat messages.
type HeartbeatInfo struct {
	WorkingSetSize    float64
	MaxWorkingSetSize float64
}

// FormatHeartbeat encodes a heartbeat message.
func FormatHeartbeat(h HeartbeatInfo) string {
	return fmt.Sprintf("<heartbeat/><wss>%e</wss><max_wss>%e</max_wss>", h.WorkingSetSize, h.MaxWorkingSetSize)
}

// ParseHeartbeat decodes a heartbeat message.
func ParseHeartbeat(msg string) (HeartbeatInfo, error) {
	if !MatchTag(msg, "<heartbeat/>") {
		return HeartbeatInfo{}, errors.Newf(errors.MalformedMessage, "not a heartbeat: %q", msg)
	}
	var h HeartbeatInfo
	var err error
	if h.WorkingSetSize, _, err = ParseDouble(msg, "wss"); err != nil {
		return HeartbeatInfo{}, err
	}
	if h.MaxWorkingSetSize, _, err = ParseDouble(msg, "max_wss"); err != nil {
		return HeartbeatInfo{}, err
	}
	return h, nil
}

// MatchTag reports whether msg contains tag verbatim.
func MatchTag(msg, tag string) bool {
	return strings.Contains(msg, tag)
}

// ParseDouble extracts the float between <tag> and </tag>. found is false
// when the element is absent.
func ParseDouble(msg, tag string) (value float64, found bool, err error) {
	raw, ok := elementText(msg, tag)
	if !ok {
		return 0, false, nil
	}
	v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if perr != nil {
		return 0, true, errors.Wrapf(perr, errors.MalformedMessage, "bad <%s> value %q", tag, raw)
	}
	return v, true, nil
}

func elementText(msg, tag string) (string, bool) {
	open := "<" + tag + ">"
	i := strings.Index(msg, open)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(open):]
	j := strings.Index(rest, "</"+tag+">")
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
