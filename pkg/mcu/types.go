package mcu

// Размеры видео, понимаемые микшером.
const (
	QCIF = iota
	CIF
	VGA
	PAL
	HVGA
	QVGA
	HD720P
	WQVGA   // 400  x 240
	W448P   // 768  x 448
	SD448P  // 576  x 448
	W288P   // 512  x 288
	W576    // 1024 x 576
	FOURCIF // 704  x 576
	FOURSIF // 704  x 480
	XGA     // 1024 x 768
)

// Раскладки мозаик.
const (
	Mosaic1x1 = iota
	Mosaic2x2
	Mosaic3x3
	Mosaic3p4
	Mosaic1p7
	Mosaic1p5
	Mosaic1p1
	MosaicPIP1
	MosaicPIP3
	Mosaic4x4
)

// Режимы детектора голосовой активности.
const (
	VADNone = iota
	VADBasic
	VADFull
)

// Специальные значения слотов мозаики.
const (
	SlotFree = 0
	SlotLock = -1
	SlotVAD  = -2
)

// Типы ног участника.
const (
	LegRTP  = 0
	LegRTMP = 1
)

// Идентификаторы по умолчанию.
const (
	DefaultMosaic  = 0
	DefaultSidebar = 0
)

// MosaicNumSlots возвращает число слотов в раскладке мозаики,
// -1 для неизвестной раскладки.
func MosaicNumSlots(layout int) int {
	switch layout {
	case Mosaic1x1:
		return 1
	case Mosaic2x2:
		return 4
	case Mosaic3x3:
		return 9
	case Mosaic3p4:
		return 7
	case Mosaic1p7:
		return 8
	case Mosaic1p5:
		return 6
	case Mosaic1p1, MosaicPIP1:
		return 2
	case MosaicPIP3:
		return 4
	case Mosaic4x4:
		return 16
	}
	return -1
}

// Sizes возвращает отображение размер -> отображаемое имя с
// разрешением.
func Sizes() map[int]string {
	return map[int]string{
		QCIF:    "QCIF 176x144",
		CIF:     "CIF 352x288",
		VGA:     "VGA 640x480",
		PAL:     "PAL 768x576",
		HVGA:    "HVGA 480x320",
		QVGA:    "QVGA 320x240",
		HD720P:  "HD720P 1280x720",
		WQVGA:   "WQVGA 400x240",
		W448P:   "W448P 768x448",
		SD448P:  "SD448P 576x448",
		W288P:   "W288P 512x288",
		W576:    "W576 1024x576",
		FOURCIF: "FOURCIF 704x576",
		FOURSIF: "FOURSIF 704x480",
		XGA:     "XGA 1024x768",
	}
}

// Mosaics возвращает отображение раскладка -> отображаемое имя.
func Mosaics() map[int]string {
	return map[int]string{
		Mosaic1x1:  "MOSAIC1x1",
		Mosaic2x2:  "MOSAIC2x2",
		Mosaic3x3:  "MOSAIC3x3",
		Mosaic3p4:  "MOSAIC3+4",
		Mosaic1p7:  "MOSAIC1+7",
		Mosaic1p5:  "MOSAIC1+5",
		Mosaic1p1:  "MOSAIC1+1",
		MosaicPIP1: "MOSAICPIP1",
		MosaicPIP3: "MOSAICPIP3",
		Mosaic4x4:  "MOSAIC4x4",
	}
}

// VADModes возвращает отображение режим VAD -> отображаемое имя.
func VADModes() map[int]string {
	return map[int]string{
		VADNone: "None",
		VADFull: "Full",
	}
}

// ConferenceInfo — сведения о конференции на микшере.
type ConferenceInfo struct {
	ID       int
	Name     string
	NumParts int
}

// MediaStatistics — статистика одного медиа потока участника.
type MediaStatistics struct {
	IsSending       bool
	IsReceiving     bool
	LostRecvPackets int
	NumRecvPackets  int
	NumSendPackets  int
	TotalRecvBytes  int
	TotalSendBytes  int
}
