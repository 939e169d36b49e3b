package peer

import (
	"errors"
	"strings"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

var ErrEmptyMessage = errors.New("empty chat message")

// Participant is a remote member as the UI shows it. Media flags come from
// advisory media-state-change events and may be stale.
type Participant struct {
	UserID       string
	Username     string
	AudioEnabled bool
	VideoEnabled bool
	Link         LinkState
}

func (c *Controller) addParticipant(info models.ParticipantInfo) {
	if p, ok := c.participants[info.UserID]; ok {
		p.Username = info.Username
		return
	}
	p := &Participant{
		UserID:       info.UserID,
		Username:     info.Username,
		AudioEnabled: true,
		VideoEnabled: true,
	}
	c.participants[info.UserID] = p
	c.emit(Notice{Kind: NoticeParticipantJoined, RemoteID: p.UserID, Participant: c.view(p)})
}

func (c *Controller) view(p *Participant) Participant {
	v := *p
	v.Link = StateIdle
	if l, ok := c.links[p.UserID]; ok {
		v.Link = l.state
	}
	return v
}

// SendChat appends the message to the local transcript and sends it to the
// room. The message stays in the transcript even if the send fails.
func (c *Controller) SendChat(text string) (models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	var (
		msg     models.ChatMessage
		sendErr error
	)
	err := c.do(func() {
		msg = models.ChatMessage{
			UserID:    c.self,
			Username:  c.username,
			Text:      text,
			Timestamp: c.now().UnixMilli(),
		}
		c.transcript = append(c.transcript, msg)
		sendErr = c.transport.Send(models.EventChatMessage, models.ChatRequest{
			Message:   msg,
			MeetingID: c.meetingID,
		})
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return msg, sendErr
}

func (c *Controller) onChat(env models.Envelope) error {
	var msg models.ChatMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	c.transcript = append(c.transcript, msg)
	c.emit(Notice{Kind: NoticeChat, RemoteID: msg.UserID, Chat: msg})
	return nil
}

func (c *Controller) SetAudioEnabled(enabled bool) error {
	return c.setMedia(models.MediaAudio, enabled)
}

// SetVideoEnabled toggles the camera. A running screen share is not
// affected.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	return c.setMedia(models.MediaVideo, enabled)
}

func (c *Controller) setMedia(kind models.MediaKind, enabled bool) error {
	var sendErr error
	err := c.do(func() {
		switch kind {
		case models.MediaAudio:
			if c.local.Audio != nil {
				c.local.Audio.SetEnabled(enabled)
			}
			c.audioOn = enabled
		case models.MediaVideo:
			if c.local.Video != nil {
				c.local.Video.SetEnabled(enabled)
			}
			c.videoOn = enabled
		}
		sendErr = c.transport.Send(models.EventMediaStateChange, models.MediaStateChange{
			MeetingID: c.meetingID,
			UserID:    c.self,
			Type:      kind,
			Enabled:   enabled,
		})
	})
	if err != nil {
		return err
	}
	return sendErr
}

func (c *Controller) onMediaState(env models.Envelope) error {
	var ev models.MediaStateChange
	if err := env.Decode(&ev); err != nil {
		return err
	}
	p, ok := c.participants[ev.UserID]
	if !ok {
		return nil
	}
	switch ev.Type {
	case models.MediaAudio:
		p.AudioEnabled = ev.Enabled
	case models.MediaVideo:
		p.VideoEnabled = ev.Enabled
	default:
		return nil
	}
	c.emit(Notice{Kind: NoticeMediaState, RemoteID: ev.UserID, Participant: c.view(p)})
	return nil
}
