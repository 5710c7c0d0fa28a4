package services

import (
	"strconv"
	"strings"

	"rillcall/internal/core/domain"

	"github.com/pion/sdp/v3"
)

const (
	opusCodecName = "opus"
	opusClockRate = "48000"
	attrRTPMap    = "rtpmap"
	attrFMTP      = "fmtp"
	voipPlayback  = 24000
	musicPlayback = 48000
)

// opusOwnedParams lists the fmtp keys rewritten by TuneOpusSDP, in the order
// they are appended when missing.
var opusOwnedParams = []string{
	"maxaveragebitrate",
	"stereo",
	"sprop-stereo",
	"useinbandfec",
	"usedtx",
	"maxplaybackrate",
}

type fmtpParam struct {
	key   string
	value string
	bare  bool
}

// OpusParameters returns the owned fmtp parameters for cfg.
func OpusParameters(cfg domain.OpusConfig) map[string]string {
	stereo := "0"
	playback := voipPlayback
	if cfg.Application == domain.OpusAudio {
		stereo = "1"
		playback = musicPlayback
	}
	return map[string]string{
		"maxaveragebitrate": strconv.Itoa(cfg.BitrateKbps * 1000),
		"stereo":            stereo,
		"sprop-stereo":      stereo,
		"useinbandfec":      boolParam(cfg.FEC),
		"usedtx":            boolParam(cfg.DTX),
		"maxplaybackrate":   strconv.Itoa(playback),
	}
}

// OpusFmtpLine merges the owned parameters for cfg into the fmtp parameter
// string base, keeping foreign keys such as minptime.
func OpusFmtpLine(base string, cfg domain.OpusConfig) string {
	return formatFMTP(mergeFMTP(parseFMTP(base), OpusParameters(cfg)))
}

// TuneOpusSDP rewrites the Opus fmtp line of every audio section in raw. It
// returns raw unchanged, and false, when the description cannot be parsed or
// does not negotiate Opus.
func TuneOpusSDP(raw string, cfg domain.OpusConfig) (string, bool) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return raw, false
	}

	owned := OpusParameters(cfg)
	changed := false
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != string(domain.MediaKindAudio) {
			continue
		}
		if tuneOpusSection(media, owned) {
			changed = true
		}
	}
	if !changed {
		return raw, false
	}

	out, err := desc.Marshal()
	if err != nil {
		return raw, false
	}
	return string(out), true
}

func tuneOpusSection(media *sdp.MediaDescription, owned map[string]string) bool {
	rtpmapIndex := -1
	payloadType := ""
	for i, attr := range media.Attributes {
		if attr.Key != attrRTPMap {
			continue
		}
		pt, codec, ok := strings.Cut(attr.Value, " ")
		if !ok {
			continue
		}
		parts := strings.Split(codec, "/")
		if len(parts) >= 2 && strings.EqualFold(parts[0], opusCodecName) && parts[1] == opusClockRate {
			rtpmapIndex = i
			payloadType = pt
			break
		}
	}
	if rtpmapIndex < 0 {
		return false
	}

	for i, attr := range media.Attributes {
		if attr.Key != attrFMTP {
			continue
		}
		pt, params, _ := strings.Cut(attr.Value, " ")
		if pt != payloadType {
			continue
		}
		media.Attributes[i].Value = payloadType + " " + formatFMTP(mergeFMTP(parseFMTP(params), owned))
		return true
	}

	line := sdp.NewAttribute(attrFMTP, payloadType+" "+formatFMTP(mergeFMTP(nil, owned)))
	attrs := make([]sdp.Attribute, 0, len(media.Attributes)+1)
	attrs = append(attrs, media.Attributes[:rtpmapIndex+1]...)
	attrs = append(attrs, line)
	attrs = append(attrs, media.Attributes[rtpmapIndex+1:]...)
	media.Attributes = attrs
	return true
}

func parseFMTP(raw string) []fmtpParam {
	var params []fmtpParam
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		params = append(params, fmtpParam{
			key:   strings.TrimSpace(key),
			value: strings.TrimSpace(value),
			bare:  !ok,
		})
	}
	return params
}

// mergeFMTP replaces owned keys in place, keeps foreign keys, and appends
// owned keys that were missing.
func mergeFMTP(existing []fmtpParam, owned map[string]string) []fmtpParam {
	seen := make(map[string]bool, len(owned))
	merged := make([]fmtpParam, 0, len(existing)+len(owned))
	for _, p := range existing {
		if value, ok := owned[strings.ToLower(p.key)]; ok {
			seen[strings.ToLower(p.key)] = true
			merged = append(merged, fmtpParam{key: p.key, value: value})
			continue
		}
		merged = append(merged, p)
	}
	for _, key := range opusOwnedParams {
		if !seen[key] {
			merged = append(merged, fmtpParam{key: key, value: owned[key]})
		}
	}
	return merged
}

func formatFMTP(params []fmtpParam) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.bare {
			parts = append(parts, p.key)
			continue
		}
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, ";")
}

func boolParam(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
