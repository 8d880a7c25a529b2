package waveform

import "github.com/agonzales-usgs/xmax-1.07/internal/config"

// Less compares two channels under the configured panel ordering. It is
// the comparator used to sort the registry's channel list for display.
func Less(order config.PanelOrder, a, b *Channel) bool {
	switch order {
	case config.OrderNetworkStationChannel:
		if a.Network() != b.Network() {
			return a.Network() < b.Network()
		}
		if a.StationName() != b.StationName() {
			return a.StationName() < b.StationName()
		}
		return a.ChannelName() < b.ChannelName()

	case config.OrderChannel:
		if a.ChannelName() != b.ChannelName() {
			return a.ChannelName() < b.ChannelName()
		}
		return a.Name() < b.Name()

	case config.OrderChannelType:
		if a.ChannelType() != b.ChannelType() {
			return a.ChannelType() < b.ChannelType()
		}
		return a.Name() < b.Name()

	case config.OrderStation:
		if a.StationName() != b.StationName() {
			return a.StationName() < b.StationName()
		}
		return a.Name() < b.Name()

	default: // OrderTraceName
		return a.Name() < b.Name()
	}
}
