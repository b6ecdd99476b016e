package builtin

import (
	"context"
	"fmt"
	"strings"

	"relay/internal/session"
	"relay/internal/tool"
)

var horoscopes = map[string]string{
	"aries":       "Today is a good day to make important decisions.",
	"taurus":      "Patience will be your best ally today.",
	"gemini":      "Communication will be key in your relationships.",
	"cancer":      "Trust your instincts and follow your heart.",
	"leo":         "Your creativity will be at its peak.",
	"virgo":       "Organise your ideas to reach your goals.",
	"libra":       "Look for balance in every area of your life.",
	"scorpio":     "Passion will lead you to new opportunities.",
	"sagittarius": "Venture outside your comfort zone.",
	"capricorn":   "Hard work will pay off soon.",
	"aquarius":    "Innovate and think outside the box.",
	"pisces":      "Let your intuition take you somewhere unexpected.",
}

// Spanish sign names map onto the English keys
var signAliases = map[string]string{
	"tauro":       "taurus",
	"géminis":     "gemini",
	"geminis":     "gemini",
	"cáncer":      "cancer",
	"escorpio":    "scorpio",
	"escorpión":   "scorpio",
	"sagitario":   "sagittarius",
	"capricornio": "capricorn",
	"acuario":     "aquarius",
	"piscis":      "pisces",
}

type horoscopeArgs struct {
	Sign string `json:"sign"`
}

func registerHoroscope(r *tool.Registry) error {
	return r.Register(tool.Descriptor{
		Name:        "get_horoscope",
		Description: "Return today's horoscope for a zodiac sign.",
		Params: []tool.Param{
			{Name: "sign", Type: "string", Description: "Zodiac sign, e.g. Libra", Required: true},
		},
	}, tool.NewFunc(horoscope))
}

func horoscope(_ context.Context, _ *session.State, in horoscopeArgs) (string, error) {
	sign := strings.ToLower(strings.TrimSpace(in.Sign))
	if sign == "" {
		return "", fmt.Errorf("sign is empty")
	}
	if alias, ok := signAliases[sign]; ok {
		sign = alias
	}

	prediction, ok := horoscopes[sign]
	if !ok {
		return fmt.Sprintf("The stars are quiet for %s today. Trust your instincts and keep going.", in.Sign), nil
	}

	return fmt.Sprintf("Today's horoscope for %s: %s", strings.ToUpper(sign[:1])+sign[1:], prediction), nil
}
