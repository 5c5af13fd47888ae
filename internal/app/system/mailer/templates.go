// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// message is the shape shared by every notification: a title, a few
// paragraphs and an optional call-to-action link.
type message struct {
	ClubName  string
	Title     string
	Lines     []string
	Link      string
	LinkLabel string
	Footer    string
}

func (m message) email(to, subject string) Email {
	return Email{
		To:       to,
		Subject:  subject,
		TextBody: m.text(),
		HTMLBody: m.html(),
	}
}

func (m message) text() string {
	var buf bytes.Buffer
	buf.WriteString(m.Title + "\n\n")
	for _, l := range m.Lines {
		buf.WriteString(l + "\n\n")
	}
	if m.Link != "" {
		buf.WriteString(m.LinkLabel + ":\n" + m.Link + "\n\n")
	}
	if m.Footer != "" {
		buf.WriteString(m.Footer + "\n")
	}
	return buf.String()
}

var layout = template.Must(template.New("message").Parse(messageHTMLTemplate))

func (m message) html() string {
	var buf bytes.Buffer
	_ = layout.Execute(&buf, m)
	return buf.String()
}

// ConfirmationEmailData holds data for account activation and recovery links.
type ConfirmationEmailData struct {
	ClubName  string
	Link      string
	ExpiresIn string // e.g. "2 hours"
	Recovery  bool
}

// BuildConfirmationEmail creates the e-mail carrying a signup or recovery link.
func BuildConfirmationEmail(to string, data ConfirmationEmailData) Email {
	action := "activate your account"
	subject := fmt.Sprintf("%s: account activation", data.ClubName)
	if data.Recovery {
		action = "recover your account"
		subject = fmt.Sprintf("%s: account recovery", data.ClubName)
	}
	return message{
		ClubName:  data.ClubName,
		Title:     "Confirm your e-mail address",
		Lines:     []string{fmt.Sprintf("Follow the link below to %s and choose a password.", action)},
		Link:      data.Link,
		LinkLabel: "Confirm",
		Footer:    fmt.Sprintf("This link expires in %s. If you did not ask for it, ignore this e-mail.", data.ExpiresIn),
	}.email(to, subject)
}

// EventEmailData describes the event a notification is about.
type EventEmailData struct {
	ClubName   string
	EventTitle string
	EventURL   string
	Start      string // preformatted
	UserName   string // the participant concerned
}

// StartLayout formats event start times in notifications.
const StartLayout = "Monday 2 January 2006, 15:04"

// EventLink returns the URL of an event page.
func EventLink(baseURL, eventID string) string {
	return strings.TrimRight(baseURL, "/") + "/events/" + eventID
}

// BuildRegistrationEmail confirms a registration to the participant.
func BuildRegistrationEmail(to string, data EventEmailData) Email {
	return message{
		ClubName:  data.ClubName,
		Title:     "Registration confirmed",
		Lines:     []string{fmt.Sprintf("You are registered to %q on %s.", data.EventTitle, data.Start)},
		Link:      data.EventURL,
		LinkLabel: "View the event",
	}.email(to, fmt.Sprintf("%s: registered to %s", data.ClubName, data.EventTitle))
}

// BuildPromotionEmail tells a participant that they left the waiting list.
func BuildPromotionEmail(to string, data EventEmailData) Email {
	return message{
		ClubName: data.ClubName,
		Title:    "A place has become available",
		Lines: []string{
			fmt.Sprintf("You are now registered to %q on %s.", data.EventTitle, data.Start),
			"If you can no longer attend, please unregister so that someone else can take your place.",
		},
		Link:      data.EventURL,
		LinkLabel: "View the event",
	}.email(to, fmt.Sprintf("%s: registration confirmed for %s", data.ClubName, data.EventTitle))
}

// BuildLeaderPromotionEmail tells a leader who left the waiting list.
func BuildLeaderPromotionEmail(to string, data EventEmailData) Email {
	return message{
		ClubName:  data.ClubName,
		Title:     "Waiting list update",
		Lines:     []string{fmt.Sprintf("%s moved from the waiting list to the participants of %q.", data.UserName, data.EventTitle)},
		Link:      data.EventURL,
		LinkLabel: "View the event",
	}.email(to, fmt.Sprintf("%s: waiting list update for %s", data.ClubName, data.EventTitle))
}

// BuildUnregistrationNotice tells a leader that a participant withdrew.
func BuildUnregistrationNotice(to string, data EventEmailData, late bool) Email {
	line := fmt.Sprintf("%s unregistered from %q.", data.UserName, data.EventTitle)
	if late {
		line = fmt.Sprintf("%s unregistered late from %q.", data.UserName, data.EventTitle)
	}
	return message{
		ClubName:  data.ClubName,
		Title:     "Unregistration",
		Lines:     []string{line},
		Link:      data.EventURL,
		LinkLabel: "View the event",
	}.email(to, fmt.Sprintf("%s: unregistration from %s", data.ClubName, data.EventTitle))
}

// BuildRejectionNotice tells a participant that a leader declined their registration.
func BuildRejectionNotice(to string, data EventEmailData) Email {
	return message{
		ClubName:  data.ClubName,
		Title:     "Registration declined",
		Lines:     []string{fmt.Sprintf("Your registration to %q on %s has been declined by the leaders.", data.EventTitle, data.Start)},
		Link:      data.EventURL,
		LinkLabel: "View the event",
	}.email(to, fmt.Sprintf("%s: registration declined for %s", data.ClubName, data.EventTitle))
}

// SanctionEmailData describes the sanction that was applied.
type SanctionEmailData struct {
	EventEmailData
	Warnings          int
	WarningsThreshold int
	Suspended         bool
	SuspensionWeeks   int
}

// BuildSanctionEmail informs a member of a warning and, possibly, a suspension.
func BuildSanctionEmail(to string, data SanctionEmailData) Email {
	lines := []string{
		fmt.Sprintf("Your absence or late unregistration from %q has been recorded as a warning.", data.EventTitle),
		fmt.Sprintf("You now have %d warning(s). After %d warnings, online registration is suspended.", data.Warnings, data.WarningsThreshold),
	}
	if data.Suspended {
		lines = append(lines, fmt.Sprintf("Your online registration is suspended for %d weeks.", data.SuspensionWeeks))
	}
	return message{
		ClubName: data.ClubName,
		Title:    "Unjustified absence",
		Lines:    lines,
	}.email(to, fmt.Sprintf("%s: unjustified absence warning", data.ClubName))
}

// ReceiptEmailData holds the payment details printed on receipts.
type ReceiptEmailData struct {
	ClubName   string
	EventTitle string
	ItemTitle  string
	PriceTitle string
	Amount     string // formatted with currency
	OrderRef   string
	Date       string
}

func (d ReceiptEmailData) lines() []string {
	return []string{
		fmt.Sprintf("Event: %s", d.EventTitle),
		fmt.Sprintf("Item: %s (%s)", d.ItemTitle, d.PriceTitle),
		fmt.Sprintf("Amount: %s", d.Amount),
		fmt.Sprintf("Reference: %s, %s", d.OrderRef, d.Date),
	}
}

// BuildReceiptEmail confirms an approved payment.
func BuildReceiptEmail(to string, data ReceiptEmailData) Email {
	return message{
		ClubName: data.ClubName,
		Title:    "Payment receipt",
		Lines:    data.lines(),
		Footer:   "Your registration is confirmed.",
	}.email(to, fmt.Sprintf("%s: payment receipt %s", data.ClubName, data.OrderRef))
}

// BuildRefundReceiptEmail confirms a refund.
func BuildRefundReceiptEmail(to string, data ReceiptEmailData) Email {
	return message{
		ClubName: data.ClubName,
		Title:    "Refund receipt",
		Lines:    append([]string{"The following payment has been refunded."}, data.lines()...),
	}.email(to, fmt.Sprintf("%s: refund %s", data.ClubName, strings.TrimSpace(data.OrderRef)))
}

const messageHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 520px; background-color: #ffffff; border-radius: 8px;">
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 22px; font-weight: 600; color: #1d4ed8;">{{.ClubName}}</h1>
              <p style="margin: 8px 0 0; font-size: 16px; color: #374151;">{{.Title}}</p>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              {{range .Lines}}<p style="margin: 0 0 16px; font-size: 15px; color: #374151; line-height: 1.5;">{{.}}</p>
              {{end}}
              {{if .Link}}
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.Link}}" style="display: inline-block; padding: 12px 28px; background-color: #1d4ed8; color: #ffffff; text-decoration: none; font-size: 15px; border-radius: 6px;">{{.LinkLabel}}</a>
                  </td>
                </tr>
              </table>
              {{end}}
            </td>
          </tr>
          {{if .Footer}}
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #6b7280; text-align: center;">{{.Footer}}</p>
            </td>
          </tr>
          {{end}}
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
