package config

import (
	"fmt"
	"time"

	alive "plantwatch/internal/alive/domain"
	alarms "plantwatch/internal/alarms/domain"
	commands "plantwatch/internal/commands/domain"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// Entity holds the settings shared by processes, equipment and sub-equipment.
type Entity struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	AliveTagID     string        `yaml:"alive_tag_id"`
	CommFaultTagID string        `yaml:"comm_fault_tag_id"`
	StateTagID     string        `yaml:"state_tag_id"`
	AliveInterval  time.Duration `yaml:"alive_interval"`
}

// Process is a configured acquisition process.
type Process struct {
	Entity `yaml:",inline"`
}

// Equipment is configured equipment owned by a process.
type Equipment struct {
	Entity    `yaml:",inline"`
	ProcessID string `yaml:"process_id"`
}

// SubEquipment is configured sub-equipment owned by equipment.
type SubEquipment struct {
	Entity      `yaml:",inline"`
	EquipmentID string `yaml:"equipment_id"`
}

// DataTag is a measurement attached to exactly one entity.
type DataTag struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	ProcessID      string `yaml:"process_id"`
	EquipmentID    string `yaml:"equipment_id"`
	SubEquipmentID string `yaml:"subequipment_id"`
}

// Alarm is a configured alarm definition.
type Alarm struct {
	ID          string           `yaml:"id"`
	TagID       string           `yaml:"tag_id"`
	FaultFamily string           `yaml:"fault_family"`
	FaultMember string           `yaml:"fault_member"`
	FaultCode   int              `yaml:"fault_code"`
	Severity    string           `yaml:"severity"`
	Condition   alarms.Condition `yaml:"condition"`
}

// Hierarchy is the flat configuration of the supervised plant. Ownership is expressed by ids.
type Hierarchy struct {
	Processes    []Process             `yaml:"processes"`
	Equipment    []Equipment           `yaml:"equipment"`
	SubEquipment []SubEquipment        `yaml:"subequipment"`
	Tags         []DataTag             `yaml:"tags"`
	Alarms       []Alarm               `yaml:"alarms"`
	Commands     []commands.CommandTag `yaml:"commands"`
}

// Model is the validated cache content built from a hierarchy.
type Model struct {
	Records  []supervision.Record
	Tags     []tags.Tag
	Timers   []alive.Timer
	Alarms   []alarms.Alarm
	Commands []commands.CommandTag
}

type index struct {
	processes    map[string]Process
	equipment    map[string]Equipment
	subequipment map[string]SubEquipment
	dataTags     map[string]DataTag
}

// Validate reports every dangling reference and duplicate at once.
func (h Hierarchy) Validate() error {
	_, problems := h.index()
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (h Hierarchy) index() (index, []string) {
	idx := index{
		processes:    make(map[string]Process, len(h.Processes)),
		equipment:    make(map[string]Equipment, len(h.Equipment)),
		subequipment: make(map[string]SubEquipment, len(h.SubEquipment)),
		dataTags:     make(map[string]DataTag, len(h.Tags)),
	}
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	tagIDs := make(map[string]struct{})
	claimTag := func(id, owner string) {
		if id == "" {
			return
		}
		if _, dup := tagIDs[id]; dup {
			addf("tag %s: duplicate id (%s)", id, owner)
			return
		}
		tagIDs[id] = struct{}{}
	}
	checkEntity := func(kind supervision.Kind, e Entity) {
		ref := supervision.Ref{Kind: kind, ID: e.ID}
		for _, id := range []string{e.AliveTagID, e.CommFaultTagID, e.StateTagID} {
			claimTag(id, ref.String())
		}
		if e.AliveTagID != "" && e.AliveInterval <= 0 {
			addf("%s: alive tag %s without positive alive_interval", ref, e.AliveTagID)
		}
	}

	for _, p := range h.Processes {
		if p.ID == "" {
			addf("process: empty id")
			continue
		}
		if _, dup := idx.processes[p.ID]; dup {
			addf("process %s: duplicate id", p.ID)
			continue
		}
		idx.processes[p.ID] = p
		checkEntity(supervision.KindProcess, p.Entity)
	}
	for _, e := range h.Equipment {
		if e.ID == "" {
			addf("equipment: empty id")
			continue
		}
		if _, dup := idx.equipment[e.ID]; dup {
			addf("equipment %s: duplicate id", e.ID)
			continue
		}
		idx.equipment[e.ID] = e
		if _, ok := idx.processes[e.ProcessID]; !ok {
			addf("equipment %s: unknown process %q", e.ID, e.ProcessID)
		}
		checkEntity(supervision.KindEquipment, e.Entity)
	}
	for _, s := range h.SubEquipment {
		if s.ID == "" {
			addf("subequipment: empty id")
			continue
		}
		if _, dup := idx.subequipment[s.ID]; dup {
			addf("subequipment %s: duplicate id", s.ID)
			continue
		}
		idx.subequipment[s.ID] = s
		if _, ok := idx.equipment[s.EquipmentID]; !ok {
			addf("subequipment %s: unknown equipment %q", s.ID, s.EquipmentID)
		}
		checkEntity(supervision.KindSubEquipment, s.Entity)
	}

	for _, t := range h.Tags {
		if t.ID == "" {
			addf("tag: empty id")
			continue
		}
		claimTag(t.ID, "data")
		idx.dataTags[t.ID] = t
		owners := 0
		for _, id := range []string{t.ProcessID, t.EquipmentID, t.SubEquipmentID} {
			if id != "" {
				owners++
			}
		}
		if owners != 1 {
			addf("tag %s: exactly one of process_id, equipment_id, subequipment_id required", t.ID)
			continue
		}
		switch {
		case t.ProcessID != "":
			if _, ok := idx.processes[t.ProcessID]; !ok {
				addf("tag %s: unknown process %q", t.ID, t.ProcessID)
			}
		case t.EquipmentID != "":
			if _, ok := idx.equipment[t.EquipmentID]; !ok {
				addf("tag %s: unknown equipment %q", t.ID, t.EquipmentID)
			}
		default:
			if _, ok := idx.subequipment[t.SubEquipmentID]; !ok {
				addf("tag %s: unknown subequipment %q", t.ID, t.SubEquipmentID)
			}
		}
	}

	alarmIDs := make(map[string]struct{}, len(h.Alarms))
	for _, a := range h.Alarms {
		if a.ID == "" {
			addf("alarm: empty id")
			continue
		}
		if _, dup := alarmIDs[a.ID]; dup {
			addf("alarm %s: duplicate id", a.ID)
			continue
		}
		alarmIDs[a.ID] = struct{}{}
		if _, ok := idx.dataTags[a.TagID]; !ok {
			addf("alarm %s: unknown data tag %q", a.ID, a.TagID)
		}
		if err := a.Condition.Validate(); err != nil {
			addf("alarm %s: %v", a.ID, err)
		}
	}

	commandIDs := make(map[string]struct{}, len(h.Commands))
	for _, c := range h.Commands {
		if err := c.Validate(); err != nil {
			addf("%v", err)
			continue
		}
		if _, dup := commandIDs[c.ID]; dup {
			addf("command %s: duplicate id", c.ID)
			continue
		}
		commandIDs[c.ID] = struct{}{}
		if _, ok := idx.processes[c.ProcessID]; !ok {
			addf("command %s: unknown process %q", c.ID, c.ProcessID)
		}
		equipment, ok := idx.equipment[c.EquipmentID]
		if !ok {
			addf("command %s: unknown equipment %q", c.ID, c.EquipmentID)
		} else if equipment.ProcessID != c.ProcessID {
			addf("command %s: equipment %s is not owned by process %s", c.ID, c.EquipmentID, c.ProcessID)
		}
	}
	return idx, problems
}

// Build validates the hierarchy and produces the initial cache content. Every entity starts
// DOWN; a data tag is listed in the TagIDs of its owner and of the owner's ancestors.
func (h Hierarchy) Build() (Model, error) {
	idx, problems := h.index()
	if len(problems) > 0 {
		return Model{}, &ValidationError{Problems: problems}
	}

	var model Model
	records := make(map[supervision.Ref]*supervision.Record)
	order := make([]supervision.Ref, 0, len(h.Processes)+len(h.Equipment)+len(h.SubEquipment))
	addRecord := func(kind supervision.Kind, e Entity, parentID string) {
		ref := supervision.Ref{Kind: kind, ID: e.ID}
		records[ref] = &supervision.Record{
			ID:             e.ID,
			Kind:           kind,
			Name:           e.Name,
			Status:         supervision.StatusDown,
			Description:    "configured",
			ParentID:       parentID,
			AliveTagID:     e.AliveTagID,
			CommFaultTagID: e.CommFaultTagID,
			StateTagID:     e.StateTagID,
			AliveInterval:  e.AliveInterval,
		}
		order = append(order, ref)
		model.Tags = append(model.Tags, controlTags(ref, e)...)
		if e.AliveTagID != "" {
			model.Timers = append(model.Timers, alive.Timer{ID: e.AliveTagID, Owner: ref, Interval: e.AliveInterval})
		}
	}
	for _, p := range h.Processes {
		addRecord(supervision.KindProcess, p.Entity, "")
	}
	for _, e := range h.Equipment {
		addRecord(supervision.KindEquipment, e.Entity, e.ProcessID)
		parent := records[supervision.Ref{Kind: supervision.KindProcess, ID: e.ProcessID}]
		parent.ChildIDs = append(parent.ChildIDs, e.ID)
	}
	for _, s := range h.SubEquipment {
		addRecord(supervision.KindSubEquipment, s.Entity, s.EquipmentID)
		parent := records[supervision.Ref{Kind: supervision.KindEquipment, ID: s.EquipmentID}]
		parent.ChildIDs = append(parent.ChildIDs, s.ID)
	}

	alarmsByTag := make(map[string][]string)
	for _, a := range h.Alarms {
		alarmsByTag[a.TagID] = append(alarmsByTag[a.TagID], a.ID)
		model.Alarms = append(model.Alarms, alarms.Alarm{
			ID:          a.ID,
			TagID:       a.TagID,
			FaultFamily: a.FaultFamily,
			FaultMember: a.FaultMember,
			FaultCode:   a.FaultCode,
			Severity:    a.Severity,
			Condition:   a.Condition,
			State:       alarms.StateTerminate,
			Published:   alarms.Published{State: alarms.StateTerminate},
		})
	}

	for _, t := range h.Tags {
		tag := tags.Tag{ID: t.ID, Name: t.Name, Kind: tags.KindData, AlarmIDs: alarmsByTag[t.ID]}
		for _, ref := range idx.chain(t) {
			switch ref.Kind {
			case supervision.KindProcess:
				tag.ProcessIDs = append(tag.ProcessIDs, ref.ID)
			case supervision.KindEquipment:
				tag.EquipmentIDs = append(tag.EquipmentIDs, ref.ID)
			case supervision.KindSubEquipment:
				tag.SubEquipmentIDs = append(tag.SubEquipmentIDs, ref.ID)
			}
			record := records[ref]
			record.TagIDs = append(record.TagIDs, t.ID)
		}
		model.Tags = append(model.Tags, tag)
	}

	for _, ref := range order {
		model.Records = append(model.Records, *records[ref])
	}
	model.Commands = append(model.Commands, h.Commands...)
	return model, nil
}

// chain lists the owner of t followed by its ancestors.
func (idx index) chain(t DataTag) []supervision.Ref {
	var refs []supervision.Ref
	equipmentID, processID := t.EquipmentID, t.ProcessID
	if t.SubEquipmentID != "" {
		refs = append(refs, supervision.Ref{Kind: supervision.KindSubEquipment, ID: t.SubEquipmentID})
		equipmentID = idx.subequipment[t.SubEquipmentID].EquipmentID
	}
	if equipmentID != "" {
		refs = append(refs, supervision.Ref{Kind: supervision.KindEquipment, ID: equipmentID})
		processID = idx.equipment[equipmentID].ProcessID
	}
	return append(refs, supervision.Ref{Kind: supervision.KindProcess, ID: processID})
}

func controlTags(owner supervision.Ref, e Entity) []tags.Tag {
	var out []tags.Tag
	for _, control := range []struct {
		id   string
		kind tags.Kind
	}{
		{e.AliveTagID, tags.KindAlive},
		{e.CommFaultTagID, tags.KindCommFault},
		{e.StateTagID, tags.KindState},
	} {
		if control.id == "" {
			continue
		}
		out = append(out, tags.Tag{
			ID:    control.id,
			Name:  fmt.Sprintf("%s %s", owner, control.kind),
			Kind:  control.kind,
			Owner: owner,
		})
	}
	return out
}
