package schema

// DataType names the scalar type of a leaf value.
type DataType string

const (
	String     DataType = "string"
	Bool       DataType = "boolean"
	Int8       DataType = "int8"
	Int16      DataType = "int16"
	Int32      DataType = "int32"
	Int64      DataType = "int64"
	UInt8      DataType = "uint8"
	UInt16     DataType = "uint16"
	UInt32     DataType = "uint32"
	UInt64     DataType = "uint64"
	Float16    DataType = "float16"
	Float32    DataType = "float32"
	Float64    DataType = "float64"
	Time       DataType = "time"
	Date       DataType = "date"
	Timestamp  DataType = "timestamp"
	Interval   DataType = "interval"
	Binary     DataType = "binary"
	Embedding  DataType = "embedding"
	StringSpan DataType = "string_span"
	Null       DataType = "null"
	Map        DataType = "map"
)

var knownTypes = map[DataType]bool{
	String: true, Bool: true,
	Int8: true, Int16: true, Int32: true, Int64: true,
	UInt8: true, UInt16: true, UInt32: true, UInt64: true,
	Float16: true, Float32: true, Float64: true,
	Time: true, Date: true, Timestamp: true, Interval: true,
	Binary: true, Embedding: true, StringSpan: true, Null: true, Map: true,
}

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool { return knownTypes[d] }

func (d DataType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

func (d DataType) IsInteger() bool {
	switch d {
	case Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64:
		return true
	}
	return false
}

func (d DataType) IsNumeric() bool { return d.IsFloat() || d.IsInteger() }

func (d DataType) IsTemporal() bool {
	switch d {
	case Time, Date, Timestamp, Interval:
		return true
	}
	return false
}

// IsOrdinal reports whether min/max are meaningful for d.
func (d DataType) IsOrdinal() bool { return d.IsNumeric() || d.IsTemporal() }

// IsSortable reports whether values of d can be used as a sort key.
func (d DataType) IsSortable() bool {
	switch d {
	case Embedding, StringSpan, Map, Binary, Null, "":
		return false
	}
	return true
}
