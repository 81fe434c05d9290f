package domain

import "strings"

// TrackKind is assigned once, when a track is first observed.
type TrackKind int

const (
	TrackAudio TrackKind = iota
	TrackVideo
	TrackScreen
)

func (k TrackKind) String() string {
	switch k {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	case TrackScreen:
		return "screen"
	}
	return "unknown"
}

type TrackOrigin int

const (
	OriginLocal TrackOrigin = iota
	OriginRemote
)

// ScreenLabel is the name screen-capture tracks are published under.
const ScreenLabel = "screen"

// ClassifyTrack turns a transport media kind plus a label into a TrackKind.
// isVideo comes from the codec type; label is the track id or name.
func ClassifyTrack(isVideo bool, label string) TrackKind {
	if !isVideo {
		return TrackAudio
	}
	if strings.Contains(strings.ToLower(label), ScreenLabel) {
		return TrackScreen
	}
	return TrackVideo
}

// MediaConstraints is what acquireLocalMedia asks the platform for.
type MediaConstraints struct {
	Audio        bool `mapstructure:"audio"`
	Video        bool `mapstructure:"video"`
	Width        int  `mapstructure:"width"`
	Height       int  `mapstructure:"height"`
	VideoBitrate int  `mapstructure:"video_bitrate"`
}

func DefaultConstraints() MediaConstraints {
	return MediaConstraints{Audio: true, Video: true, Width: 640, Height: 480, VideoBitrate: 1_000_000}
}
