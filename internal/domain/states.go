package domain

import (
	"fmt"

	"converse/internal/tracker"

	"go.uber.org/zap"
)

// GetActiveStates returns the sparse state of a conversation turn: a map
// from state name to a weight in [0, 1]. The four contributions (parse
// result, slots, previous action, active form) live in disjoint namespaces,
// so merging them cannot collide.
func (d *Domain) GetActiveStates(t *tracker.Tracker) map[string]float64 {
	states := d.parsingStates(t)
	for k, v := range d.prevActionStates(t) {
		states[k] = v
	}
	for k, v := range activeFormStates(t) {
		states[k] = v
	}
	return states
}

// parsingStates covers steps 1-3: wanted entities, featurized slots and
// intent confidences from the latest user message.
func (d *Domain) parsingStates(t *tracker.Tracker) map[string]float64 {
	states := make(map[string]float64)

	msg := t.LatestMessage()
	if msg == nil {
		return states
	}

	if msg.Intent.Name != "" {
		for _, entity := range d.featurizedEntities(msg) {
			states[entityPrefix+entity] = 1.0
		}
	}

	for _, slot := range d.slots {
		value := t.SlotValue(slot.Name())
		if value == nil {
			continue
		}
		for i, v := range slot.Feature(value) {
			if v != 0 {
				states[fmt.Sprintf("%s%s_%d", slotPrefix, slot.Name(), i)] = v
			}
		}
	}

	if len(msg.IntentRanking) > 0 {
		for _, candidate := range msg.IntentRanking {
			if candidate.Name != "" {
				states[intentPrefix+candidate.Name] = candidate.Confidence
			}
		}
	} else if msg.Intent.Name != "" {
		confidence := msg.Intent.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		states[intentPrefix+msg.Intent.Name] = confidence
	}

	return states
}

// featurizedEntities filters the message's entities down to the ones wanted
// for the current intent. Wanted means explicitly included (or all, when the
// intent includes everything) minus explicitly ignored; exclusion wins when
// an entity appears on both lists.
func (d *Domain) featurizedEntities(msg *tracker.UserUttered) []string {
	props := d.IntentProperties(msg.Intent.Name)

	recognized := make(map[string]struct{}, len(msg.Entities))
	for _, e := range msg.Entities {
		recognized[e.Name] = struct{}{}
	}

	included := make(map[string]struct{})
	if props.UseAllEntities {
		for name := range recognized {
			included[name] = struct{}{}
		}
	} else {
		for _, name := range props.UseEntities {
			included[name] = struct{}{}
		}
	}
	for _, name := range props.IgnoreEntities {
		delete(included, name)
	}

	var wanted []string
	for name := range recognized {
		if _, ok := included[name]; ok {
			wanted = append(wanted, name)
		}
	}
	return wanted
}

// prevActionStates covers step 4: the most recently executed action, only
// when it belongs to the known state schema.
func (d *Domain) prevActionStates(t *tracker.Tracker) map[string]float64 {
	latest := t.LatestActionName()
	if latest == "" {
		return nil
	}
	name := prevPrefix + latest
	if _, ok := d.inputStateMap[name]; !ok {
		d.log.Debug("previous action is not part of the state schema, skipping",
			zap.String("action", latest))
		return nil
	}
	return map[string]float64{name: 1.0}
}

// activeFormStates covers step 5: the currently active form, if any.
func activeFormStates(t *tracker.Tracker) map[string]float64 {
	form := t.ActiveForm()
	if form.Name == "" {
		return nil
	}
	return map[string]float64{activeFormPrefix + form.Name: 1.0}
}

// StatesForTrackerHistory returns the active states at every decision point
// of the conversation: one entry per executed action (as the world looked
// right before it ran) plus the current state as the final entry. This is
// the sequence policies featurize into training examples.
func (d *Domain) StatesForTrackerHistory(t *tracker.Tracker) []map[string]float64 {
	prior := t.GeneratePriorTrackers()
	states := make([]map[string]float64, len(prior))
	for i, tr := range prior {
		states[i] = d.GetActiveStates(tr)
	}
	return states
}
