package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/mossy-p/meeting-signaling/internal/rtc"
	"github.com/mossy-p/meeting-signaling/internal/wsclient"
	"github.com/spf13/cobra"
)

// JoinCmd joins a meeting with synthetic media and reads commands from stdin
var JoinCmd = &cobra.Command{
	Use:   "join <meeting-id>",
	Short: "Join a meeting",
	Long: `Join a meeting with generated audio and video.

Lines typed on stdin are sent as chat. Commands:
  /mute     toggle the microphone
  /video    toggle the camera
  /share    toggle screen sharing
  /status   show links and participants
  /leave    leave the meeting`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runJoin(cmd *cobra.Command, args []string) error {
	meetingID := args[0]

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	creds, err := authenticate(ctx, config)
	if err != nil {
		return err
	}
	wsURL, err := meetingURL(config.Server, meetingID, creds.Token)
	if err != nil {
		return err
	}

	transport, err := wsclient.Dial(ctx, wsURL, nil, &logger)
	if err != nil {
		return err
	}
	negotiator, err := rtc.NewNegotiator(rtc.Config{
		ICEServers: config.ICEServers,
		Logger:     &logger,
	})
	if err != nil {
		_ = transport.Close()
		return err
	}

	username := config.Username
	if username == "" {
		username = creds.UserID
	}
	out := cmd.OutOrStdout()

	ctrl := peer.New(peer.Config{
		UserID:     creds.UserID,
		Username:   username,
		MeetingID:  meetingID,
		Transport:  transport,
		Negotiator: negotiator,
		Media:      &rtc.SyntheticSource{StreamID: creds.UserID},
		Logger:     &logger,
		Notify:     printer(out),
	})
	if err := ctrl.Join(ctx); err != nil {
		ctrl.Leave()
		return err
	}
	fmt.Fprintf(out, "joined %s as %s, type /help for commands\n", meetingID, username)

	go readCommands(ctx, cmd.InOrStdin(), ctrl, out)

	<-ctrl.Done()
	return nil
}

// meetingURL turns the server base URL into the meeting websocket URL
func meetingURL(server, meetingID, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	if meetingID == "" {
		return "", errors.New("meeting id is required")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/meetings/" + url.PathEscape(meetingID)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

/*******************************************************************************
* STDIN
*******************************************************************************/

type action int

const (
	actionNone action = iota
	actionChat
	actionMute
	actionVideo
	actionShare
	actionStatus
	actionHelp
	actionLeave
	actionUnknown
)

func parseInput(line string) (action, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return actionNone, ""
	}
	if !strings.HasPrefix(line, "/") {
		return actionChat, line
	}
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/mute":
		return actionMute, ""
	case "/video":
		return actionVideo, ""
	case "/share":
		return actionShare, ""
	case "/status":
		return actionStatus, ""
	case "/help":
		return actionHelp, ""
	case "/leave", "/quit":
		return actionLeave, ""
	}
	return actionUnknown, line
}

// readCommands drives the controller from stdin until /leave or EOF
func readCommands(ctx context.Context, in io.Reader, ctrl *peer.Controller, out io.Writer) {
	defer ctrl.Leave()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		act, arg := parseInput(scanner.Text())
		if act == actionLeave {
			return
		}
		if err := apply(ctx, ctrl, act, arg, out); err != nil {
			if errors.Is(err, peer.ErrClosed) {
				return
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func apply(ctx context.Context, ctrl *peer.Controller, act action, arg string, out io.Writer) error {
	switch act {
	case actionChat:
		_, err := ctrl.SendChat(arg)
		return err
	case actionMute, actionVideo:
		snap, err := ctrl.Snapshot()
		if err != nil {
			return err
		}
		if act == actionMute {
			return ctrl.SetAudioEnabled(!snap.AudioEnabled)
		}
		return ctrl.SetVideoEnabled(!snap.VideoEnabled)
	case actionShare:
		sharing, err := ctrl.ToggleScreenShare(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "* screen sharing: %t\n", sharing)
	case actionStatus:
		snap, err := ctrl.Snapshot()
		if err != nil {
			return err
		}
		printSnapshot(out, snap)
	case actionHelp:
		fmt.Fprintln(out, "/mute /video /share /status /leave, anything else is chat")
	case actionUnknown:
		return fmt.Errorf("unknown command %s", arg)
	}
	return nil
}

/*******************************************************************************
* OUTPUT
*******************************************************************************/

func printer(out io.Writer) func(peer.Notice) {
	return func(n peer.Notice) {
		switch n.Kind {
		case peer.NoticeParticipantJoined:
			fmt.Fprintf(out, "* %s is here\n", displayName(n.Participant))
		case peer.NoticeParticipantLeft:
			fmt.Fprintf(out, "* %s left\n", displayName(n.Participant))
		case peer.NoticeLinkConnected:
			fmt.Fprintf(out, "* connected to %s\n", n.RemoteID)
		case peer.NoticeLinkClosed:
			fmt.Fprintf(out, "* link to %s closed\n", n.RemoteID)
		case peer.NoticeStream:
			fmt.Fprintf(out, "* receiving %s from %s\n", n.Track.Kind, n.RemoteID)
		case peer.NoticeChat:
			fmt.Fprintf(out, "<%s> %s\n", n.Chat.Username, n.Chat.Text)
		case peer.NoticeMediaState:
			fmt.Fprintf(out, "* %s audio:%t video:%t\n",
				displayName(n.Participant), n.Participant.AudioEnabled, n.Participant.VideoEnabled)
		case peer.NoticeError:
			fmt.Fprintf(out, "! server: %v\n", n.Err)
		case peer.NoticeLeft:
			fmt.Fprintln(out, "* left the meeting")
		}
	}
}

func displayName(p peer.Participant) string {
	if p.Username != "" {
		return p.Username
	}
	return p.UserID
}

func printSnapshot(out io.Writer, snap peer.Snapshot) {
	fmt.Fprintf(out, "you: audio:%t video:%t sharing:%t\n", snap.AudioEnabled, snap.VideoEnabled, snap.ScreenSharing)
	for _, p := range snap.Participants {
		fmt.Fprintf(out, "  %-20s %-12s audio:%t video:%t\n", displayName(p), p.Link, p.AudioEnabled, p.VideoEnabled)
	}
}
