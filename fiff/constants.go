package fiff

// Tag kinds.
const (
	kindFileID        = 100
	kindDirPointer    = 101
	kindBlockStart    = 104
	kindBlockEnd      = 105
	kindNop           = 108
	kindNChan         = 200
	kindSFreq         = 201
	kindChInfo        = 203
	kindDescription   = 206
	kindFirstSample   = 208
	kindLastSample    = 209
	kindEpoch         = 302
	kindMNEEventList  = 600
	kindMNEChNameList = 3502
)

// Block kinds.
const (
	blockMeas           = 100
	blockMeasInfo       = 101
	blockMNEEvents      = 115
	blockMNEBadChannels = 359
	blockMNEEpochs      = 373
)

// Data types.
const (
	typeVoid     = 0
	typeInt      = 3
	typeFloat    = 4
	typeDouble   = 5
	typeString   = 10
	typeChInfo   = 30
	typeIDStruct = 31

	typeMatrix     = 0x40000000
	typeCodingMask = 0xffff0000
	typeBaseMask   = 0x0000ffff
)

const (
	nextSeq  = 0
	nextNone = -1
)

const (
	tagHeaderSize = 16
	chInfoSize    = 96
	idStructSize  = 20
)

// Channel kinds.
const (
	KindMEG    = 1
	KindEEG    = 2
	KindStim   = 3
	KindEOG    = 202
	KindRefMEG = 301
	KindEMG    = 302
	KindECG    = 402
	KindMisc   = 502
)

// Units that tell magnetometers from gradiometers.
const (
	UnitTesla         = 112
	UnitTeslaPerMeter = 201
)
