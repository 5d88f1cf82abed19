package probe

import (
	"bytes"
	"testing"
)

func TestProtocolEncodeInfo(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	tests := []struct {
		name   string
		infoID byte
		want   []byte
	}{
		{"Vendor ID", InfoVendorID, []byte{0x00, 0x01}},
		{"Product ID", InfoProductID, []byte{0x00, 0x02}},
		{"Serial Number", InfoSerialNum, []byte{0x00, 0x03}},
		{"Firmware Version", InfoFirmwareVer, []byte{0x00, 0x04}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := proto.EncodeInfo(tt.infoID)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeInfo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocolDecodeInfo(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	tests := []struct {
		name    string
		resp    []byte
		want    string
		wantErr bool
	}{
		{
			name: "valid vendor",
			resp: []byte{0x00, 0x04, 'T', 'e', 's', 't'},
			want: "Test",
		},
		{
			name:    "too short",
			resp:    []byte{0x00},
			wantErr: true,
		},
		{
			name:    "wrong command",
			resp:    []byte{0x01, 0x04, 'T', 'e', 's', 't'},
			wantErr: true,
		},
		{
			name:    "incomplete string",
			resp:    []byte{0x00, 0x10, 'T', 'e', 's', 't'},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := proto.DecodeInfo(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeInfo() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("DecodeInfo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocolDecodeConnect(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	tests := []struct {
		name    string
		resp    []byte
		want    byte
		wantErr bool
	}{
		{name: "SWD connected", resp: []byte{0x02, 0x01}, want: PortSWD},
		{name: "JTAG connected", resp: []byte{0x02, 0x02}, want: PortJTAG},
		{name: "connection failed", resp: []byte{0x02, 0x00}, wantErr: true},
		{name: "too short", resp: []byte{0x02}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := proto.DecodeConnect(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeConnect() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("DecodeConnect() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProtocolEncodeSWJSequence(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	got := proto.EncodeSWJSequence(16, []byte{0x9E, 0xE7})
	want := []byte{CmdSWJSequence, 16, 0x9E, 0xE7}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeSWJSequence() = %X, want %X", got, want)
	}

	// 51 bits need 7 bytes of data
	got = proto.EncodeSWJSequence(51, bytes.Repeat([]byte{0xFF}, 7))
	if len(got) != 9 || got[1] != 51 {
		t.Errorf("EncodeSWJSequence(51) = %X", got)
	}
}

func TestProtocolEncodeTransferConfigure(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	got := proto.EncodeTransferConfigure(2, 64, 0x0102)
	want := []byte{CmdTransferConfigure, 2, 64, 0, 0x02, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeTransferConfigure() = %X, want %X", got, want)
	}
}

func TestProtocolEncodeTransfer(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	transfers := []Transfer{
		NewTransfer(false, false, 0x08, 0x01000000), // DP SELECT write
		NewTransfer(true, true, 0xFC, 0),            // AP IDR read
	}
	got := proto.EncodeTransfer(0, transfers)
	want := []byte{
		CmdTransfer, 0x00, 0x02,
		0x08, 0x00, 0x00, 0x00, 0x01,
		0x0F,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeTransfer() = %X, want %X", got, want)
	}
}

func TestProtocolDecodeTransfer(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)
	transfers := []Transfer{
		NewTransfer(false, false, 0x08, 0),
		NewTransfer(true, true, 0xFC, 0),
	}

	tests := []struct {
		name     string
		resp     []byte
		wantOK   bool
		wantData []uint32
		wantErr  bool
	}{
		{
			name:     "both completed",
			resp:     []byte{CmdTransfer, 2, AckOK, 0x00, 0x00, 0x88, 0x02},
			wantOK:   true,
			wantData: []uint32{0x02880000},
		},
		{
			name:   "fault on read",
			resp:   []byte{CmdTransfer, 1, AckFault},
			wantOK: false,
		},
		{
			name:   "no ack",
			resp:   []byte{CmdTransfer, 0, AckNoAck},
			wantOK: false,
		},
		{
			name:    "missing read data",
			resp:    []byte{CmdTransfer, 2, AckOK, 0x00},
			wantErr: true,
		},
		{
			name:    "more transfers than sent",
			resp:    []byte{CmdTransfer, 3, AckOK},
			wantErr: true,
		},
		{
			name:    "wrong command",
			resp:    []byte{CmdInfo, 2, AckOK},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := proto.DecodeTransfer(tt.resp, transfers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeTransfer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.OK(len(transfers)) != tt.wantOK {
				t.Errorf("OK() = %v, want %v (result %+v)", got.OK(len(transfers)), tt.wantOK, got)
			}
			if len(got.Data) != len(tt.wantData) {
				t.Fatalf("Data = %X, want %X", got.Data, tt.wantData)
			}
			for i := range got.Data {
				if got.Data[i] != tt.wantData[i] {
					t.Errorf("Data[%d] = 0x%08X, want 0x%08X", i, got.Data[i], tt.wantData[i])
				}
			}
		})
	}
}

func TestProtocolStatusResponses(t *testing.T) {
	proto := NewCMSISDAPProtocol(64)

	if err := proto.DecodeSetClock([]byte{CmdSWJClock, StatusOK}); err != nil {
		t.Errorf("DecodeSetClock(OK) = %v", err)
	}
	if err := proto.DecodeSetClock([]byte{CmdSWJClock, StatusError}); err == nil {
		t.Error("DecodeSetClock(error) should fail")
	}
	if got := proto.EncodeSWDConfigure(0); !bytes.Equal(got, []byte{CmdSWDConfigure, 0}) {
		t.Errorf("EncodeSWDConfigure(0) = %X", got)
	}
	if err := proto.DecodeSWDConfigure([]byte{CmdSWDConfigure}); err == nil {
		t.Error("DecodeSWDConfigure(short) should fail")
	}
	if err := proto.DecodeSWJSequence([]byte{CmdSWDConfigure, StatusOK}); err == nil {
		t.Error("DecodeSWJSequence(wrong command) should fail")
	}
}
