package notify

import (
	"fmt"
	"strings"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/Spok95/school-attendance/internal/observability"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram pushes boarding/alighting notices to parents who registered a
// chat id. Delivery is best effort and runs off the scan path.
type Telegram struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
}

func NewTelegram(token string, log *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, log: log}, nil
}

func (t *Telegram) ScanAccepted(ev models.ScanEvent, st models.Student) {
	if ev.Service != models.ServiceTransport || st.ParentChat == nil {
		return
	}
	var text string
	switch ev.Subtype {
	case models.ScanBoarding:
		text = fmt.Sprintf("%s boarded bus %s at %s (%s)", st.Name, ev.BusID, ev.At.Format("15:04"), ev.Location)
	case models.ScanAlighting:
		text = fmt.Sprintf("%s left bus %s at %s (%s)", st.Name, ev.BusID, ev.At.Format("15:04"), ev.Location)
	default:
		return
	}
	if _, err := t.send(tgbotapi.NewMessage(*st.ParentChat, text)); err != nil {
		t.log.Warn("parent notification failed",
			zap.String("admission_no", st.AdmissionNo), zap.Error(err))
	}
}

// 5xx, 429 and timeouts count as system errors and go to Sentry; telegram
// validation noise (chat not found etc.) does not.
func isSystemErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	if strings.Contains(s, "429") || strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "timeout") {
		return true
	}
	return false
}

func (t *Telegram) send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	m, err := t.bot.Send(msg)
	if isSystemErr(err) {
		observability.CaptureErr(err)
	}
	return m, err
}
