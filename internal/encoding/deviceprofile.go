package encoding

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jmylchreest/encodr/internal/media"
)

// ProfileType is the media kind a profile entry applies to.
type ProfileType string

// Profile types.
const (
	ProfileAudio ProfileType = "Audio"
	ProfileVideo ProfileType = "Video"
)

// ConditionOperator compares a target value with a condition value.
type ConditionOperator string

// Condition operators.
const (
	OpEquals           ConditionOperator = "Equals"
	OpNotEquals        ConditionOperator = "NotEquals"
	OpLessThanEqual    ConditionOperator = "LessThanEqual"
	OpGreaterThanEqual ConditionOperator = "GreaterThanEqual"
	OpEqualsAny        ConditionOperator = "EqualsAny"
)

// ConditionProperty is the output property a condition inspects.
type ConditionProperty string

// Condition properties.
const (
	PropWidth         ConditionProperty = "Width"
	PropHeight        ConditionProperty = "Height"
	PropVideoBitDepth ConditionProperty = "VideoBitDepth"
	PropVideoBitrate  ConditionProperty = "VideoBitrate"
	PropVideoProfile  ConditionProperty = "VideoProfile"
	PropVideoLevel    ConditionProperty = "VideoLevel"
	PropFramerate     ConditionProperty = "VideoFramerate"
	PropTimestamp     ConditionProperty = "VideoTimestamp"
	PropAnamorphic    ConditionProperty = "IsAnamorphic"
	PropCabac         ConditionProperty = "IsCabac"
	PropRefFrames     ConditionProperty = "RefFrames"
	PropAudioChannels ConditionProperty = "AudioChannels"
	PropAudioBitrate  ConditionProperty = "AudioBitrate"
)

// SeekInfo is how a client should seek within transcoded output.
type SeekInfo string

// Seek modes.
const (
	SeekAuto  SeekInfo = "Auto"
	SeekBytes SeekInfo = "Bytes"
)

// HeaderMatch is how an identification header value is compared.
type HeaderMatch string

// Header match types.
const (
	MatchEquals    HeaderMatch = "Equals"
	MatchSubstring HeaderMatch = "Substring"
	MatchRegex     HeaderMatch = "Regex"
)

// ProfileCondition is one constraint of a media profile.
type ProfileCondition struct {
	Condition  ConditionOperator `json:"condition"`
	Property   ConditionProperty `json:"property"`
	Value      string            `json:"value"`
	IsRequired bool              `json:"isRequired,omitempty"`
}

// MediaProfile describes output a device plays, and the MIME type to serve it as.
type MediaProfile struct {
	Type       ProfileType        `json:"type"`
	Container  string             `json:"container,omitempty"`  // comma separated
	AudioCodec string             `json:"audioCodec,omitempty"` // comma separated
	VideoCodec string             `json:"videoCodec,omitempty"` // comma separated
	MimeType   string             `json:"mimeType,omitempty"`
	Conditions []ProfileCondition `json:"conditions,omitempty"`
}

// TranscodingProfile describes how transcoded output is delivered to a device.
type TranscodingProfile struct {
	Type                  ProfileType `json:"type"`
	Container             string      `json:"container"`
	AudioCodec            string      `json:"audioCodec,omitempty"` // comma separated
	VideoCodec            string      `json:"videoCodec,omitempty"`
	EstimateContentLength bool        `json:"estimateContentLength,omitempty"`
	EnableMpegtsM2TsMode  bool        `json:"enableMpegtsM2TsMode,omitempty"`
	TranscodeSeekInfo     SeekInfo    `json:"transcodeSeekInfo,omitempty"`
}

// HeaderRule matches one request header when identifying a device.
type HeaderRule struct {
	Name  string      `json:"name"`
	Value string      `json:"value"`
	Match HeaderMatch `json:"match"`
}

// DeviceProfile is the subset of a device profile the engine consumes.
type DeviceProfile struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	Identification      []HeaderRule         `json:"identification,omitempty"`
	MediaProfiles       []MediaProfile       `json:"mediaProfiles,omitempty"`
	TranscodingProfiles []TranscodingProfile `json:"transcodingProfiles,omitempty"`
}

// DeviceProfiles resolves device profiles. Implementations return nil, nil
// when nothing matches.
type DeviceProfiles interface {
	GetProfile(ctx context.Context, id string) (*DeviceProfile, error)
	// GetCapabilities returns the profile a device registered for itself.
	// The boolean reports whether the device registered capabilities at all.
	GetCapabilities(ctx context.Context, deviceID string) (*DeviceProfile, bool, error)
	MatchProfile(ctx context.Context, headers map[string]string) (*DeviceProfile, error)
}

// ResolveDeviceProfile applies the lookup order: explicit profile id, then
// the device's registered capabilities, then header identification. Header
// matching is only attempted for requests naming a device.
func ResolveDeviceProfile(ctx context.Context, profiles DeviceProfiles, req *Request, headers map[string]string) (*DeviceProfile, error) {
	if profiles == nil {
		return nil, nil
	}
	if strings.TrimSpace(req.DeviceProfileID) != "" {
		return profiles.GetProfile(ctx, req.DeviceProfileID)
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return nil, nil
	}
	caps, ok, err := profiles.GetCapabilities(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if ok {
		return caps, nil
	}
	return profiles.MatchProfile(ctx, headers)
}

// MatchesHeaders reports whether any identification rule matches headers.
func (p *DeviceProfile) MatchesHeaders(headers map[string]string) bool {
	for _, rule := range p.Identification {
		for name, value := range headers {
			if !strings.EqualFold(name, rule.Name) {
				continue
			}
			if rule.matches(value) {
				return true
			}
		}
	}
	return false
}

func (r HeaderRule) matches(value string) bool {
	switch r.Match {
	case MatchSubstring:
		return strings.Contains(strings.ToLower(value), strings.ToLower(r.Value))
	case MatchRegex:
		re, err := regexp.Compile(r.Value)
		return err == nil && re.MatchString(value)
	default:
		return strings.EqualFold(value, r.Value)
	}
}

// AudioTarget holds the output values audio conditions are checked against.
type AudioTarget struct {
	Channels *int
	Bitrate  *int
}

// VideoTarget holds the output values video conditions are checked against.
type VideoTarget struct {
	AudioTarget
	Width      *int
	Height     *int
	BitDepth   *int
	Bitrate    *int
	Profile    string
	Level      *float64
	Framerate  *float64
	Timestamp  media.Timestamp
	Anamorphic *bool
	Cabac      *bool
	RefFrames  *int
}

// AudioMediaProfile returns the first audio media profile that accepts the output.
func (p *DeviceProfile) AudioMediaProfile(container, audioCodec string, target AudioTarget) *MediaProfile {
	container = strings.TrimPrefix(container, ".")
	for i := range p.MediaProfiles {
		mp := &p.MediaProfiles[i]
		if mp.Type != ProfileAudio {
			continue
		}
		if !listAccepts(mp.Container, container) || !listAccepts(mp.AudioCodec, audioCodec) {
			continue
		}
		if !conditionsHold(mp.Conditions, func(c ProfileCondition) bool { return audioConditionHolds(c, target) }) {
			continue
		}
		return mp
	}
	return nil
}

// VideoMediaProfile returns the first video media profile that accepts the output.
func (p *DeviceProfile) VideoMediaProfile(container, audioCodec, videoCodec string, target VideoTarget) *MediaProfile {
	container = strings.TrimPrefix(container, ".")
	for i := range p.MediaProfiles {
		mp := &p.MediaProfiles[i]
		if mp.Type != ProfileVideo {
			continue
		}
		if !listAccepts(mp.Container, container) ||
			!listAccepts(mp.AudioCodec, audioCodec) ||
			!listAccepts(mp.VideoCodec, videoCodec) {
			continue
		}
		if !conditionsHold(mp.Conditions, func(c ProfileCondition) bool { return videoConditionHolds(c, target) }) {
			continue
		}
		return mp
	}
	return nil
}

// AudioTranscodingProfile returns the audio transcoding profile for the output.
func (p *DeviceProfile) AudioTranscodingProfile(container, audioCodec string) *TranscodingProfile {
	return p.transcodingProfile(ProfileAudio, container, audioCodec, "")
}

// VideoTranscodingProfile returns the video transcoding profile for the output.
func (p *DeviceProfile) VideoTranscodingProfile(container, audioCodec, videoCodec string) *TranscodingProfile {
	return p.transcodingProfile(ProfileVideo, container, audioCodec, videoCodec)
}

func (p *DeviceProfile) transcodingProfile(typ ProfileType, container, audioCodec, videoCodec string) *TranscodingProfile {
	container = strings.TrimPrefix(container, ".")
	for i := range p.TranscodingProfiles {
		tp := &p.TranscodingProfiles[i]
		if tp.Type != typ || !strings.EqualFold(tp.Container, container) {
			continue
		}
		if !listAccepts(tp.AudioCodec, audioCodec) {
			continue
		}
		if typ == ProfileVideo && !listAccepts(tp.VideoCodec, videoCodec) {
			continue
		}
		return tp
	}
	return nil
}

// listAccepts reports whether a comma separated list contains value. An
// empty list accepts anything.
func listAccepts(list, value string) bool {
	if strings.TrimSpace(list) == "" {
		return true
	}
	return slices.ContainsFunc(strings.Split(list, ","), func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), value)
	})
}

func conditionsHold(conds []ProfileCondition, holds func(ProfileCondition) bool) bool {
	for _, c := range conds {
		if !holds(c) {
			return false
		}
	}
	return true
}

func audioConditionHolds(c ProfileCondition, t AudioTarget) bool {
	switch c.Property {
	case PropAudioChannels:
		return intConditionHolds(c, t.Channels)
	case PropAudioBitrate:
		return intConditionHolds(c, t.Bitrate)
	default:
		// conditions on properties this output does not have are not applicable
		return true
	}
}

func videoConditionHolds(c ProfileCondition, t VideoTarget) bool {
	switch c.Property {
	case PropWidth:
		return intConditionHolds(c, t.Width)
	case PropHeight:
		return intConditionHolds(c, t.Height)
	case PropVideoBitDepth:
		return intConditionHolds(c, t.BitDepth)
	case PropVideoBitrate:
		return intConditionHolds(c, t.Bitrate)
	case PropRefFrames:
		return intConditionHolds(c, t.RefFrames)
	case PropVideoProfile:
		return stringConditionHolds(c, t.Profile)
	case PropVideoLevel:
		return floatConditionHolds(c, t.Level)
	case PropFramerate:
		return floatConditionHolds(c, t.Framerate)
	case PropAnamorphic:
		return boolConditionHolds(c, t.Anamorphic)
	case PropCabac:
		return boolConditionHolds(c, t.Cabac)
	case PropTimestamp:
		return stringConditionHolds(c, string(t.Timestamp))
	default:
		return audioConditionHolds(c, t.AudioTarget)
	}
}

func intConditionHolds(c ProfileCondition, current *int) bool {
	if current == nil {
		return !c.IsRequired
	}
	expected, err := strconv.Atoi(strings.TrimSpace(c.Value))
	if err != nil {
		return false
	}
	return compareOrdered(c.Condition, *current, expected)
}

func floatConditionHolds(c ProfileCondition, current *float64) bool {
	if current == nil {
		return !c.IsRequired
	}
	expected, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
	if err != nil {
		return false
	}
	return compareOrdered(c.Condition, *current, expected)
}

func compareOrdered[T int | float64](op ConditionOperator, current, expected T) bool {
	switch op {
	case OpEquals:
		return current == expected
	case OpNotEquals:
		return current != expected
	case OpLessThanEqual:
		return current <= expected
	case OpGreaterThanEqual:
		return current >= expected
	default:
		return false
	}
}

func stringConditionHolds(c ProfileCondition, current string) bool {
	if current == "" {
		return !c.IsRequired
	}
	switch c.Condition {
	case OpEqualsAny:
		return slices.ContainsFunc(strings.Split(c.Value, "|"), func(s string) bool {
			return strings.EqualFold(strings.TrimSpace(s), current)
		})
	case OpEquals:
		return strings.EqualFold(c.Value, current)
	case OpNotEquals:
		return !strings.EqualFold(c.Value, current)
	default:
		return false
	}
}

func boolConditionHolds(c ProfileCondition, current *bool) bool {
	if current == nil {
		return !c.IsRequired
	}
	expected, err := strconv.ParseBool(strings.TrimSpace(c.Value))
	if err != nil {
		return false
	}
	switch c.Condition {
	case OpEquals:
		return *current == expected
	case OpNotEquals:
		return *current != expected
	default:
		return false
	}
}

// ApplyDeviceProfile copies presentation settings from the job's device
// profile: the MIME type from the matching media profile and, unless the
// request is static, the transcoding profile's delivery flags.
func (j *Job) ApplyDeviceProfile() {
	p := j.DeviceProfile
	if p == nil {
		return
	}
	audioCodec := j.ActualOutputAudioCodec()

	if !j.HasVideoRequest() {
		if mp := p.AudioMediaProfile(j.OutputContainer, audioCodec, AudioTarget{
			Channels: j.OutputAudioChannels,
			Bitrate:  j.OutputAudioBitrate,
		}); mp != nil {
			j.MimeType = mp.MimeType
		}
		if !j.Request.Static {
			if tp := p.AudioTranscodingProfile(j.OutputContainer, audioCodec); tp != nil {
				j.applyTranscodingProfile(tp)
			}
		}
		return
	}

	videoCodec := j.ActualOutputVideoCodec()
	if mp := p.VideoMediaProfile(j.OutputContainer, audioCodec, videoCodec, VideoTarget{
		AudioTarget: AudioTarget{Channels: j.OutputAudioChannels, Bitrate: j.OutputAudioBitrate},
		Width:       j.OutputWidth(),
		Height:      j.OutputHeight(),
		BitDepth:    j.TargetVideoBitDepth(),
		Bitrate:     j.OutputVideoBitrate,
		Profile:     j.TargetVideoProfile(),
		Level:       j.TargetVideoLevel(),
		Framerate:   j.TargetFramerate(),
		Timestamp:   j.TargetTimestamp(),
		Anamorphic:  j.IsTargetAnamorphic(),
		Cabac:       j.IsTargetCabac(),
		RefFrames:   j.TargetRefFrames(),
	}); mp != nil {
		j.MimeType = mp.MimeType
	}
	if !j.Request.Static {
		if tp := p.VideoTranscodingProfile(j.OutputContainer, audioCodec, videoCodec); tp != nil {
			j.applyTranscodingProfile(tp)
		}
	}
}

func (j *Job) applyTranscodingProfile(tp *TranscodingProfile) {
	j.EstimateContentLength = tp.EstimateContentLength
	j.EnableMpegtsM2TsMode = tp.EnableMpegtsM2TsMode
	j.TranscodeSeekInfo = tp.TranscodeSeekInfo
}
