package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/railhub/pkg/domain"
)

// GenerateMermaid renders the rail network seen from a node as a Mermaid flowchart.
// The hub is a circle, remotes are rectangles, offline stations are dashed,
// stations holding a train are highlighted and the lock holder's line is bold.
func GenerateMermaid(status domain.NodeStatus) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	hubID := status.HubID
	stations := append([]domain.StationRecord(nil), status.Stations...)
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })

	var withTrain, offline []string
	for _, st := range stations {
		safeID := sanitizeMermaidID(st.ID)
		label := st.Label
		if label == "" {
			label = st.ID
		}
		label = strings.ReplaceAll(label, "\"", "'")

		opener, closer := "[", "]"
		if st.ID == hubID {
			opener, closer = "((", "))"
		}
		if st.HasTrain {
			label += " <br/> 🚂"
			withTrain = append(withTrain, safeID)
		}
		if !st.Online && st.ID != hubID {
			offline = append(offline, safeID)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))
	}

	if hubID != "" {
		safeHub := sanitizeMermaidID(hubID)
		for _, st := range stations {
			if st.ID == hubID {
				continue
			}
			arrow := "---"
			if status.Lock != nil && status.Lock.Held() && status.Lock.Holder == st.ID {
				arrow = fmt.Sprintf("== \"%s\" ==>", status.Lock.State)
			} else if !st.Online {
				arrow = "-.-"
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeHub, arrow, sanitizeMermaidID(st.ID)))
		}
	}

	if len(withTrain) > 0 || len(offline) > 0 || status.Identity.ID != "" {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef train fill:#ffeb3b,stroke:#fbc02d,stroke-width:3px,color:#000;\n")
		sb.WriteString("    classDef offline fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray:4 4,color:#000;\n")
		sb.WriteString("    classDef self stroke:#01579b,stroke-width:4px;\n")
		for _, id := range withTrain {
			sb.WriteString(fmt.Sprintf("    class %s train;\n", id))
		}
		for _, id := range offline {
			sb.WriteString(fmt.Sprintf("    class %s offline;\n", id))
		}
		if status.Identity.ID != "" {
			sb.WriteString(fmt.Sprintf("    class %s self;\n", sanitizeMermaidID(status.Identity.ID)))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
