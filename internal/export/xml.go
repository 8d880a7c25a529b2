package export

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

type xmlTrace struct {
	XMLName  xml.Name     `xml:"Trace"`
	Network  string       `xml:"network,attr"`
	Station  string       `xml:"station,attr"`
	Location string       `xml:"location,attr"`
	Channel  string       `xml:"channel,attr"`
	Segments []xmlSegment `xml:"Segment"`
}

type xmlSegment struct {
	Start      string  `xml:"start,attr"`
	SampleRate float64 `xml:"sampleRate,attr"`
	Count      int     `xml:"count,attr"`
	Samples    []int32 `xml:"Sample"`
}

// DumpXML writes the channel's samples in iv as an XML document with one
// Segment element per contiguous run.
func DumpXML(ctx context.Context, w io.Writer, ch *waveform.Channel, iv waveform.TimeInterval, f waveform.Filter) error {
	data, err := sliceData(ctx, ch, iv, f)
	if err != nil {
		return err
	}
	if err := requireData(data, ch); err != nil {
		return err
	}

	doc := xmlTrace{
		Network:  ch.Network(),
		Station:  ch.StationName(),
		Location: ch.Location(),
		Channel:  ch.ChannelName(),
	}
	for _, d := range data {
		doc.Segments = append(doc.Segments, xmlSegment{
			Start:      time.UnixMilli(d.StartMs).UTC().Format(time.RFC3339Nano),
			SampleRate: d.SampleRate,
			Count:      len(d.Samples),
			Samples:    d.Samples,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	return enc.Close()
}
