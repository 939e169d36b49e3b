package peer

import (
	"context"
	"fmt"
)

// ToggleScreenShare starts sharing the screen, or goes back to the camera
// when a share is already running. It reports whether a share is running
// afterwards. Links keep their sessions; only the outgoing video changes.
func (c *Controller) ToggleScreenShare(ctx context.Context) (bool, error) {
	var wasSharing bool
	err := c.do(func() {
		if c.screen != nil {
			wasSharing = true
			c.revert()
		}
	})
	if err != nil {
		return false, err
	}
	if wasSharing {
		return false, nil
	}

	// capture may prompt the user, keep it off the controller goroutine
	screen, err := c.media.CaptureScreen(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMediaCapture, err)
	}

	var started bool
	err = c.do(func() {
		if c.screen != nil {
			return
		}
		c.screen = screen
		c.switchOutgoingVideo(screen)
		c.emit(Notice{Kind: NoticeScreenShare, Sharing: true})
		started = true
	})
	if err != nil {
		screen.Stop()
		return false, err
	}
	if !started {
		// another toggle got there first
		screen.Stop()
		return true, nil
	}

	go c.watchScreen(screen)
	return true, nil
}

// watchScreen reverts to the camera when the shared screen goes away on
// its own
func (c *Controller) watchScreen(screen Track) {
	select {
	case <-screen.Ended():
		c.mb.push(func() {
			if c.screen == screen {
				c.logger.Info().Msg("screen share ended")
				c.revert()
			}
		})
	case <-c.done:
	}
}

func (c *Controller) revert() {
	screen := c.screen
	if screen == nil {
		return
	}
	c.screen = nil
	c.switchOutgoingVideo(c.local.Video)
	screen.Stop()
	c.emit(Notice{Kind: NoticeScreenShare, Sharing: false})
}

func (c *Controller) activeVideo() Track {
	if c.screen != nil {
		return c.screen
	}
	return c.local.Video
}

// switchOutgoingVideo swaps the video on every connected link in place.
// Links still negotiating pick up the active track once they connect.
func (c *Controller) switchOutgoingVideo(next Track) {
	for _, l := range c.links {
		if l.state != StateConnected || l.video == next {
			continue
		}
		c.replaceVideo(l, next)
	}
}

func (c *Controller) replaceVideo(l *link, next Track) {
	if err := l.session.ReplaceOutgoingTrack(l.video, next); err != nil {
		c.logger.Warn().Err(err).Str("remoteID", l.remoteID).Msg("failed to replace outgoing video")
		return
	}
	l.video = next
}
