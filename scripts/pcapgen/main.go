package main

import (
	"WiFiSpectra/internal/channel"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Beacon interval of 100 TU.
const beaconInterval = 102400 * time.Microsecond

type fakeAP struct {
	ssid    string
	bssid   net.HardwareAddr
	channel int
	signal  int
}

func main() {
	outputFile := flag.String("o", "beacons.pcap", "Output pcap file path")
	apCount := flag.Int("aps", 5, "Number of access points")
	rounds := flag.Int("c", 200, "Beacons per access point")
	jitter := flag.Int("jitter", 3, "Maximum RSSI jitter in dB")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65535, layers.LinkTypeIEEE80211Radio); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	channels := []int{1, 6, 11}
	aps := make([]fakeAP, *apCount)
	for i := range aps {
		aps[i] = fakeAP{
			ssid:    fmt.Sprintf("wfs-ap-%d", i),
			bssid:   net.HardwareAddr{0x02, 0x57, 0x46, 0x53, 0x00, byte(i + 1)},
			channel: channels[i%len(channels)],
			signal:  -40 - 5*i,
		}
	}

	log.Printf("Generating %d beacons of %d access points into %s...", *rounds**apCount, *apCount, *outputFile)

	start := time.Now()
	for r := 0; r < *rounds; r++ {
		for i, ap := range aps {
			ts := start.Add(time.Duration(r)*beaconInterval + time.Duration(i)*time.Millisecond)
			signal := ap.signal
			if *jitter > 0 {
				signal += rand.Intn(2**jitter+1) - *jitter
			}
			data, err := beacon(ap, uint16(r), int8(signal), uint64(ts.Sub(start).Microseconds()))
			if err != nil {
				log.Fatalf("Failed to serialize beacon: %v", err)
			}
			ci := gopacket.CaptureInfo{
				Timestamp:     ts,
				CaptureLength: len(data),
				Length:        len(data),
			}
			if err := pcapWriter.WritePacket(ci, data); err != nil {
				log.Fatalf("Failed to write packet: %v", err)
			}
		}
	}

	for _, ap := range aps {
		log.Printf("%s %s channel %d around %d dBm", ap.ssid, ap.bssid, ap.channel, ap.signal)
	}
}

func beacon(ap fakeAP, seq uint16, signal int8, tsf uint64) ([]byte, error) {
	freq, err := channel.Frequency(ap.channel)
	if err != nil {
		return nil, err
	}
	radio := &layers.RadioTap{
		Present:          layers.RadioTapPresentChannel | layers.RadioTapPresentDBMAntennaSignal | layers.RadioTapPresentDBMAntennaNoise,
		ChannelFrequency: layers.RadioTapChannelFrequency(freq),
		ChannelFlags:     layers.RadioTapChannelFlagsGhz2,
		DBMAntennaSignal: signal,
		DBMAntennaNoise:  -95,
	}
	dot11 := &layers.Dot11{
		Type:           layers.Dot11TypeMgmtBeacon,
		Address1:       layers.EthernetBroadcast,
		Address2:       ap.bssid,
		Address3:       ap.bssid,
		SequenceNumber: seq,
	}
	body := &layers.Dot11MgmtBeacon{
		Timestamp: tsf,
		Interval:  100,
		Flags:     0x0401,
	}
	ssid := &layers.Dot11InformationElement{
		ID:     layers.Dot11InformationElementIDSSID,
		Length: uint8(len(ap.ssid)),
		Info:   []byte(ap.ssid),
	}
	rates := &layers.Dot11InformationElement{
		ID:     layers.Dot11InformationElementIDRates,
		Length: 4,
		Info:   []byte{0x82, 0x84, 0x8b, 0x96},
	}
	ds := &layers.Dot11InformationElement{
		ID:     layers.Dot11InformationElementIDDSSet,
		Length: 1,
		Info:   []byte{byte(ap.channel)},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, radio, dot11, body, ssid, rates, ds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
