package game

// Seeds is a fixed list of opening situations.
type Seeds []string

var DefaultSeeds = Seeds{
	"Rain hammered the windows of the night train as it pulled out of the last station before the border.",
	"The lighthouse keeper found a letter on the doorstep that had not been there a minute ago.",
	"On the first morning of the festival, every clock in the village stopped at exactly 7:14.",
	"Two strangers reached for the last umbrella in the hotel lobby at the same moment.",
	"The expedition's radio crackled to life with a voice nobody on the team recognised.",
	"A new tenant moved into apartment 4B and the old one never moved out.",
	"The museum's night guard noticed that one of the portraits had changed its expression.",
	"At the reunion dinner, someone raised a glass to a friend who had been missing for ten years.",
}

func (s Seeds) Situation(r Rand) string {
	if len(s) == 0 {
		return ""
	}
	return s[r.Intn(len(s))]
}
