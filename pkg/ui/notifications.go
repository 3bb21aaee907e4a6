package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier announces the end of long runs on the console and, when
// enabled, as a desktop notification
type Notifier struct {
	send    func(title, message string) error
	enabled bool
}

// NewNotifier creates a Notifier for the current platform. Platforms
// without a notification command only get console output.
func NewNotifier(enabled bool) *Notifier {
	n := &Notifier{enabled: enabled}
	if build, ok := desktopCommands[runtime.GOOS]; ok {
		n.send = func(title, message string) error { return build(title, message).Run() }
	}
	return n
}

// SendError prints a failure summary and notifies
func (n *Notifier) SendError(title, message string) {
	printf(true, "\n%s: %s\n", Red(title), Red(message))
	n.notify(title, message)
}

// SendSuccess prints a completion summary and notifies
func (n *Notifier) SendSuccess(title, message string) {
	printf(false, "\n%s: %s\n", Green(title), Green(message))
	n.notify(title, message)
}

// notify ignores delivery errors; a missing notify-send is not a failure
func (n *Notifier) notify(title, message string) {
	if n.enabled && n.send != nil {
		_ = n.send(title, message)
	}
}

var desktopCommands = map[string]func(title, message string) *exec.Cmd{
	"linux": func(title, message string) *exec.Cmd {
		return exec.Command("notify-send", "--app-name=pkgmirror", title, message)
	},
	"darwin": func(title, message string) *exec.Cmd {
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(message), appleQuote(title))
		return exec.Command("osascript", "-e", script)
	},
	"windows": func(title, message string) *exec.Cmd {
		script := fmt.Sprintf(toastScript, xmlEscape(title), xmlEscape(message))
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	},
}

const toastScript = `[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
$doc = [Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime]::new()
$doc.LoadXml('<toast><visual><binding template="ToastText02"><text id="1">%s</text><text id="2">%s</text></binding></visual></toast>')
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("pkgmirror").Show([Windows.UI.Notifications.ToastNotification]::new($doc))`

func appleQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;").Replace(s)
}
