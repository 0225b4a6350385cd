package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
)

// StatusMarkdown formats a node status as the markdown shown on a station display.
func StatusMarkdown(s domain.NodeStatus) string {
	var sb strings.Builder

	label := s.Identity.Label
	if label == "" {
		label = s.Identity.ID
	}
	fmt.Fprintf(&sb, "# %s (%s)\n\n", label, s.Identity.Role)

	switch {
	case s.Identity.IsHub():
	case s.HubID != "":
		fmt.Fprintf(&sb, "Hub: **%s**\n\n", s.HubID)
	default:
		sb.WriteString("Hub: _searching_\n\n")
	}

	fmt.Fprintf(&sb, "- Train at platform: %s\n", yesNo(s.HasTrain))
	fmt.Fprintf(&sb, "- Players nearby: %s\n", yesNo(s.PlayersNearby))
	sb.WriteString(departureLine(s.Intent))
	if s.LastError != "" {
		fmt.Fprintf(&sb, "- Last departure failed: %s\n", s.LastError)
	}
	if s.Lock != nil {
		if s.Lock.Held() {
			fmt.Fprintf(&sb, "- Switch lock: %s for **%s**\n", s.Lock.State, s.Lock.Holder)
		} else {
			fmt.Fprintf(&sb, "- Switch lock: %s\n", s.Lock.State)
		}
	}

	if len(s.Stations) > 0 {
		sb.WriteString("\n## Stations\n\n| Station | Online | Train | Players | Last seen |\n|---|---|---|---|---|\n")
		for _, st := range s.Stations {
			name := st.Label
			if name == "" {
				name = st.ID
			}
			fmt.Fprintf(&sb, "| %s (`%s`) | %s | %s | %s | %s |\n",
				name, st.ID, yesNo(st.Online), yesNo(st.HasTrain), yesNo(st.PlayersNearby), seen(st.LastSeen))
		}
	}

	if len(s.Bays) > 0 {
		sb.WriteString("\n## Parking bays\n\n| Switch | Occupied |\n|---|---|\n")
		for _, bay := range s.Bays {
			fmt.Fprintf(&sb, "| %d | %s |\n", bay.SwitchIndex, yesNo(bay.Occupied))
		}
	}

	if len(s.Switches) > 0 {
		sb.WriteString("\n## Switches\n\n| Index | Parking | State |\n|---|---|---|\n")
		for _, sw := range s.Switches {
			state := "through"
			if sw.State {
				state = "diverted"
			}
			fmt.Fprintf(&sb, "| %d | %s | %s |\n", sw.Index, yesNo(sw.Parking), state)
		}
	}

	return sb.String()
}

func departureLine(in domain.DepartureIntent) string {
	switch {
	case in.Phase == "" || in.Phase == domain.PhaseIdle:
		return "- Departure: none\n"
	case in.DestinationID == "":
		return fmt.Sprintf("- Departure: %s\n", in.Phase)
	case in.Phase == domain.PhaseCountdown:
		return fmt.Sprintf("- Departure: **%s** to %s in %s\n", in.Phase, destination(in), in.Remaining.Round(time.Second))
	default:
		return fmt.Sprintf("- Departure: **%s** to %s\n", in.Phase, destination(in))
	}
}

func destination(in domain.DepartureIntent) string {
	if in.DestinationLabel != "" {
		return in.DestinationLabel
	}
	return in.DestinationID
}

func seen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
