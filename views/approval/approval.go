package approval

import (
	"fmt"
	"strings"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// maxBodyLines caps long payloads (typed data, tx JSON) inside the dialog.
const maxBodyLines = 18

// Nav returns the navigation bar shown while a request awaits a decision
func Nav(width int) string {
	left := strings.Join([]string{
		styles.Key("←/→") + " choose",
		styles.Key("Enter") + " confirm",
		styles.Key("y") + " approve",
		styles.Key("n") + " reject",
		styles.Key("c") + " copy payload",
	}, "   ")
	return styles.NavStyle.Width(width).Render(left)
}

// Title names what the user is asked to approve.
func Title(k approval.Kind) string {
	switch k {
	case approval.KindConnect:
		return "Connection Request"
	case approval.KindTransaction:
		return "Send Transaction"
	case approval.KindMessageSign:
		return "Sign Message"
	case approval.KindTypedDataSign:
		return "Sign Typed Data"
	}
	return "Approval Request"
}

// Summary is a one-line description used in logs and the header.
func Summary(req *approval.Request) string {
	switch p := req.Payload.(type) {
	case approval.TransactionPayload:
		to := "new contract"
		if p.To != nil {
			to = helpers.ShortenAddr(p.To.Hex())
		}
		return fmt.Sprintf("%s wants to send %s to %s", req.Origin, helpers.FormatETH(p.Value), to)
	case approval.MessagePayload:
		return fmt.Sprintf("%s wants %s to sign a message", req.Origin, helpers.ShortenAddr(p.Address.Hex()))
	case approval.TypedDataPayload:
		return fmt.Sprintf("%s wants %s to sign %s", req.Origin, helpers.ShortenAddr(p.Address.Hex()), helpers.Printable(p.PrimaryType))
	case approval.ConnectPayload:
		return fmt.Sprintf("%s wants to see %s", req.Origin, helpers.ShortenAddr(p.Account.Hex()))
	}
	return fmt.Sprintf("%s request from %s", req.Kind, req.Origin)
}

// Copyable returns the text placed on the clipboard for req.
func Copyable(req *approval.Request) string {
	switch p := req.Payload.(type) {
	case approval.TransactionPayload:
		return p.Fields
	case approval.MessagePayload:
		if p.Decoded {
			return p.Text
		}
		return p.Raw
	case approval.TypedDataPayload:
		return p.Pretty
	case approval.ConnectPayload:
		return p.Account.Hex()
	}
	return ""
}

func field(label, value string) string {
	return lipgloss.NewStyle().Foreground(styles.CMuted).Width(10).Render(label) +
		lipgloss.NewStyle().Foreground(styles.CText).Render(value)
}

// clip boxes dapp supplied text, escaped so it cannot drive the terminal.
func clip(s string, width int) string {
	lines := strings.Split(strings.TrimRight(helpers.Printable(s), "\n"), "\n")
	if len(lines) > maxBodyLines {
		more := len(lines) - maxBodyLines
		lines = append(lines[:maxBodyLines], styles.Muted(fmt.Sprintf("… %d more lines (c to copy)", more)))
	}
	box := lipgloss.NewStyle().
		Foreground(styles.CText).
		Background(styles.CPanel).
		Padding(0, 1).
		MaxWidth(width)
	return box.Render(strings.Join(lines, "\n"))
}

func body(req *approval.Request, width int) []string {
	switch p := req.Payload.(type) {
	case approval.ConnectPayload:
		return []string{
			field("Account", p.Account.Hex()),
			"",
			styles.Muted("The site will see this address and may ask for signatures."),
		}
	case approval.TransactionPayload:
		to := "contract creation"
		if p.To != nil {
			to = p.To.Hex()
		}
		lines := []string{
			field("From", p.From.Hex()),
			field("To", to),
			field("Value", helpers.FormatETH(p.Value)),
		}
		if len(p.Data) > 0 {
			data := hexutil.Encode(p.Data)
			if len(data) > 42 {
				data = data[:42] + "…"
			}
			lines = append(lines, field("Data", fmt.Sprintf("%s (%d bytes)", data, len(p.Data))))
		}
		if p.Fields != "" {
			lines = append(lines, "", clip(p.Fields, width))
		}
		return lines
	case approval.MessagePayload:
		label := "Message"
		text := p.Text
		if !p.Decoded {
			label = "Raw"
			text = p.Raw
		}
		return []string{
			field("Signer", p.Address.Hex()),
			"",
			styles.Muted(label),
			clip(text, width),
		}
	case approval.TypedDataPayload:
		return []string{
			field("Signer", p.Address.Hex()),
			field("Type", helpers.Printable(p.PrimaryType)),
			field("Domain", helpers.Printable(p.Domain)),
			"",
			clip(p.Pretty, width),
		}
	}
	return []string{styles.Muted(fmt.Sprintf("%v", req.Payload))}
}

// Render draws the dialog for req. queued counts every outstanding request,
// req included.
func Render(req *approval.Request, queued int, approveFocused bool, copied string, width int) string {
	inner := helpers.Max(20, width-8)

	header := styles.WarnStyle.Render(Title(req.Kind))
	if queued > 1 {
		header += styles.Muted(fmt.Sprintf("   (%d more waiting)", queued-1))
	}
	origin := lipgloss.NewStyle().Bold(true).Render(helpers.FadeString(req.Origin, "#F25D94", "#EDFF82"))

	lines := []string{header, origin, ""}
	lines = append(lines, body(req, inner)...)

	approveBtn, rejectBtn := styles.ButtonStyle, styles.ActiveButtonStyle
	if approveFocused {
		approveBtn, rejectBtn = styles.ActiveButtonStyle, styles.ButtonStyle
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		approveBtn.Render("Approve"), "  ", rejectBtn.Render("Reject"))
	lines = append(lines, "", buttons)

	if req.Decided() {
		lines = append(lines, "", styles.Muted("The site withdrew this request."))
	}
	if copied != "" {
		lines = append(lines, "", lipgloss.NewStyle().Foreground(styles.CAccent).Render(copied))
	}

	return styles.DialogStyle.Width(inner).Render(strings.Join(lines, "\n"))
}
