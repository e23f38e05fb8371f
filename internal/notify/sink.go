package notify

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/untoldecay/checkpoint/internal/errs"
)

// NewPlatformSink returns the host's notification sink: osascript on
// darwin, notify-send on linux. A missing binary is a capability error;
// alerts then land only in the log.
func NewPlatformSink() (Sink, error) {
	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("osascript"); err != nil {
			return nil, errs.Wrap(errs.CodeCapNoManager, err, "osascript not found")
		}
		return osascriptSink{}, nil
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return nil, errs.Wrap(errs.CodeCapNoManager, err, "notify-send not found")
		}
		return notifySendSink{}, nil
	default:
		return nil, errs.New(errs.CodeCapNoManager,
			fmt.Sprintf("no notification sink on %s", runtime.GOOS))
	}
}

type osascriptSink struct{}

func (osascriptSink) Deliver(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q", n.Body, n.Title)
	return exec.Command("osascript", "-e", script).Run()
}

type notifySendSink struct{}

func (notifySendSink) Deliver(n Notification) error {
	urgency := "normal"
	switch n.Urgency {
	case Critical, High:
		urgency = "critical"
	case Low:
		urgency = "low"
	}
	return exec.Command("notify-send", "-u", urgency, "-a", "checkpoint", n.Title, n.Body).Run()
}
