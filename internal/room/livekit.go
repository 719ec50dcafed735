package room

import (
	"context"
	"strings"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/ingest"
	"github.com/Raikerian/go-room-egress/internal/mixer"
)

// Track is one subscribed remote audio track.
type Track struct {
	Participant mixer.ParticipantID
	Identity    string
	SID         string
	MimeType    string
	Reader      ingest.PacketReader
}

// Handler receives room events. Callbacks run on the connector's goroutines.
type Handler struct {
	OnTrack        func(Track)
	OnDisconnected func()
}

// Session is a joined room.
type Session interface {
	Disconnect()
}

// Connector joins rooms.
type Connector interface {
	Connect(ctx context.Context, url, token string, h Handler) (Session, error)
}

// LiveKitConnector joins LiveKit rooms as a subscriber that auto-subscribes
// to every published track.
type LiveKitConnector struct {
	logger *zap.Logger
}

func NewLiveKitConnector(logger *zap.Logger) *LiveKitConnector {
	return &LiveKitConnector{logger: logger}
}

func (c *LiveKitConnector) Connect(ctx context.Context, url, token string, h Handler) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cb := lksdk.NewRoomCallback()
	cb.ParticipantCallback.OnTrackSubscribed = func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}

		c.logger.Info("Participant became speaker",
			zap.String("identity", rp.Identity()),
			zap.String("track_sid", pub.SID()),
			zap.String("mime_type", track.Codec().MimeType))

		if h.OnTrack != nil {
			h.OnTrack(Track{
				Participant: participantID(rp.Identity(), pub.SID()),
				Identity:    rp.Identity(),
				SID:         pub.SID(),
				MimeType:    track.Codec().MimeType,
				Reader:      track,
			})
		}
	}
	cb.ParticipantCallback.OnTrackUnsubscribed = func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		c.logger.Debug("Track unsubscribed",
			zap.String("identity", rp.Identity()),
			zap.String("track_sid", pub.SID()))
	}
	cb.OnDisconnected = func() {
		if h.OnDisconnected != nil {
			h.OnDisconnected()
		}
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, err
	}

	return room, nil
}

// participantID keys the mixer by track so one identity publishing twice
// gets two speaker buffers.
func participantID(identity, trackSID string) mixer.ParticipantID {
	return mixer.ParticipantID(identity + "/" + trackSID)
}

func isOpus(mimeType string) bool {
	return strings.EqualFold(mimeType, webrtc.MimeTypeOpus)
}
