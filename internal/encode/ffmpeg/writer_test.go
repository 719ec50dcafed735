package ffmpeg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Raikerian/go-room-egress/internal/encode"
)

func TestHLSOptions(t *testing.T) {
	tests := map[string]struct {
		target encode.Target
		want   []muxerOption
	}{
		"delete segments": {
			target: encode.Target{Dir: "/out", Room: "abc", Playlist: "live.m3u8", SegmentSeconds: 4, ListSize: 6, DeleteSegments: true},
			want: []muxerOption{
				{key: "hls_time", value: "4"},
				{key: "hls_list_size", value: "6"},
				{key: "hls_segment_filename", value: filepath.Join("/out", "abc", "segment_%05d.ts")},
				{key: "hls_flags", value: "delete_segments"},
			},
		},
		"keep segments": {
			target: encode.Target{Dir: "out", Room: "r", Playlist: "p.m3u8", SegmentSeconds: 2, ListSize: 0},
			want: []muxerOption{
				{key: "hls_time", value: "2"},
				{key: "hls_list_size", value: "0"},
				{key: "hls_segment_filename", value: filepath.Join("out", "r", "segment_%05d.ts")},
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, hlsOptions(tt.target))
		})
	}
}

func TestPlaylistPath(t *testing.T) {
	target := encode.Target{Dir: "/var/egress", Room: "room-1", Playlist: "live.m3u8"}
	assert.Equal(t, filepath.Join("/var/egress", "room-1", "live.m3u8"), playlistPath(target))
}

func TestChannelLayout(t *testing.T) {
	_, err := channelLayout(1)
	assert.NoError(t, err)
	_, err = channelLayout(2)
	assert.NoError(t, err)
	_, err = channelLayout(6)
	assert.ErrorIs(t, err, errUnsupportedChannels)
}

func TestNewSegmentWriter_RejectsForeignEncoder(t *testing.T) {
	b := &Backend{}
	_, err := b.NewSegmentWriter(nil, encode.Target{})
	assert.ErrorIs(t, err, errForeignEncoder)
}
