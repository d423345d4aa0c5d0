package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var confirmationTmpl = template.Must(template.ParseFS(templateFS, "templates/confirmation.html"))

type confirmationData struct {
	StudioName string
	Name       string
	Day        string
	Start      string
	End        string
	BookingID  string
}

// ConfirmationMessage renders the email sent once a deposit confirms b.
func ConfirmationMessage(studioName string, b model.Booking) (Message, error) {
	start, end, err := b.Window()
	if err != nil {
		return Message{}, err
	}
	data := confirmationData{
		StudioName: studioName,
		Name:       b.CustomerName,
		Day:        b.Date.Format("Monday, 2 January 2006"),
		Start:      start.Format("15:04"),
		End:        end.Format("15:04"),
		BookingID:  b.ID,
	}

	var html bytes.Buffer
	if err := confirmationTmpl.Execute(&html, data); err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Hi %s,\n\nyour session at %s on %s from %s to %s is confirmed.\nBooking reference: %s\n",
		data.Name, data.StudioName, data.Day, data.Start, data.End, data.BookingID)

	return Message{
		ToName:  b.CustomerName,
		ToEmail: b.CustomerEmail,
		Subject: fmt.Sprintf("%s: booking confirmed for %s", studioName, b.Date.Format(time.DateOnly)),
		Text:    text,
		HTML:    html.String(),
	}, nil
}
