// Package i18n holds the user-facing strings for every supported language.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a user-facing message
type Key string

const (
	EnterStartEnd          Key = "enterStartEnd"
	InitialPrompt          Key = "initialPrompt"
	RouteErrorDefault      Key = "routeSearchErrorDefault"
	RouteErrorNotFound     Key = "routeSearchErrorNotFound"
	RouteErrorZeroResults  Key = "routeSearchErrorZeroResults"
	RouteErrorDenied       Key = "routeSearchErrorRequestDenied"
	RouteErrorOverQuota    Key = "routeSearchErrorOverQueryLimit"
	NoOverviewPath         Key = "noOverviewPath"
	RouteLoaded            Key = "streetViewRouteLoaded"
	RideFinished           Key = "streetViewRideFinished"
	Segment                Key = "streetViewSegment"
	StreetViewUnavailable  Key = "streetViewUnavailable"
	TryingNext             Key = "streetViewTryingNext"
	ViewFrom               Key = "streetViewFrom"
	NearRoute              Key = "streetViewNearRoute"
	NoStreetViewOnRoute    Key = "noStreetViewOnRoute"
	FindingStreetView      Key = "findingStreetView"
	NarrativeError         Key = "narrativeError"
	GeolocationError       Key = "geolocationError"
	NarrativeNotConfigured Key = "geminiApiKeyWarning"
)

// Supported lists the available languages; the first is the fallback
var Supported = []language.Tag{language.English, language.Thai}

var matcher = language.NewMatcher(Supported)

var messages = map[language.Tag]map[Key]string{
	language.English: {
		EnterStartEnd:          "Please enter both start and end locations.",
		InitialPrompt:          "Please enter start and end locations to plan your journey.",
		RouteErrorDefault:      "Could not find the route. Please check locations and try again.",
		RouteErrorNotFound:     "One or both locations could not be found. Please check the addresses.",
		RouteErrorZeroResults:  "No route could be found between the specified locations.",
		RouteErrorDenied:       "Directions request denied. Check your Google Maps API key and permissions.",
		RouteErrorOverQuota:    "Directions request quota exceeded. Please try again later.",
		NoOverviewPath:         "No overview path found for this route.",
		RouteLoaded:            "Route loaded. Press play to start.",
		RideFinished:           "Ride finished!",
		Segment:                "Segment %d of %d",
		StreetViewUnavailable:  "Street View unavailable for this segment.",
		TryingNext:             "Street View unavailable. Trying next point...",
		ViewFrom:               "View from: %s",
		NearRoute:              "Near your route",
		NoStreetViewOnRoute:    "Street View is not available for any part of the generated path. Please try a different route.",
		FindingStreetView:      "Searching for nearest Street View...",
		NarrativeError:         "Error generating narrative: %s. Route map will still be available.",
		GeolocationError:       "Could not retrieve current location. Please enter a starting point manually.",
		NarrativeNotConfigured: "WARNING: Narrative API key is not set. Narrative features will be disabled.",
	},
	language.Thai: {
		EnterStartEnd:          "กรุณากรอกทั้งสถานที่เริ่มต้นและสิ้นสุด",
		InitialPrompt:          "กรุณากรอกสถานที่เริ่มต้นและสิ้นสุดเพื่อวางแผนการเดินทางของคุณ",
		RouteErrorDefault:      "ไม่สามารถค้นหาเส้นทางได้ กรุณาตรวจสอบสถานที่และลองอีกครั้ง",
		RouteErrorNotFound:     "ไม่พบสถานที่อย่างน้อยหนึ่งแห่ง กรุณาตรวจสอบที่อยู่",
		RouteErrorZeroResults:  "ไม่พบเส้นทางระหว่างสถานที่ที่ระบุ",
		RouteErrorDenied:       "คำขอเส้นทางถูกปฏิเสธ ตรวจสอบ API key และสิทธิ์การใช้งาน Google Maps",
		RouteErrorOverQuota:    "เกินโควต้าคำขอเส้นทาง กรุณาลองอีกครั้งในภายหลัง",
		NoOverviewPath:         "ไม่พบภาพรวมเส้นทางสำหรับเส้นทางนี้",
		RouteLoaded:            "โหลดเส้นทางแล้ว กดเล่นเพื่อเริ่ม",
		RideFinished:           "การเดินทางสิ้นสุดแล้ว!",
		Segment:                "ส่วนที่ %d จาก %d",
		StreetViewUnavailable:  "Street View ไม่พร้อมใช้งานสำหรับส่วนนี้",
		TryingNext:             "Street View ไม่พร้อมใช้งาน กำลังลองจุดถัดไป...",
		ViewFrom:               "มุมมองจาก: %s",
		NearRoute:              "ใกล้เส้นทางของคุณ",
		NoStreetViewOnRoute:    "ไม่พบ Street View สำหรับเส้นทางที่สร้างขึ้นนี้เลย ลองเปลี่ยนเส้นทางอื่น",
		FindingStreetView:      "กำลังค้นหา Street View ที่ใกล้ที่สุด...",
		NarrativeError:         "เกิดข้อผิดพลาดในการสร้างเรื่องเล่า: %s แผนที่เส้นทางจะยังคงใช้งานได้",
		GeolocationError:       "ไม่สามารถดึงตำแหน่งปัจจุบันได้ กรุณากรอกสถานที่เริ่มต้นด้วยตนเอง",
		NarrativeNotConfigured: "คำเตือน: ไม่ได้ตั้งค่า API key สำหรับเรื่องเล่า คุณสมบัติเรื่องเล่าจะถูกปิดใช้งาน",
	},
}

var cat = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(Supported[0]))
	for tag, keys := range messages {
		for key, text := range keys {
			if err := b.SetString(tag, string(key), text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Match picks the supported language closest to the given BCP 47 tag or
// Accept-Language header value. Unknown input selects English.
func Match(s string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(s)
	if err != nil || len(tags) == 0 {
		return Supported[0]
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return Supported[0]
	}
	return Supported[index]
}

// Localizer renders messages in one language. Not safe for concurrent use.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Localizer for the supported language closest to tag
func New(tag language.Tag) *Localizer {
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		index = 0
	}
	chosen := Supported[index]
	return &Localizer{
		tag:     chosen,
		printer: message.NewPrinter(chosen, message.Catalog(cat)),
	}
}

// Tag returns the language messages are rendered in
func (l *Localizer) Tag() language.Tag {
	return l.tag
}

// Text renders key with args
func (l *Localizer) Text(key Key, args ...interface{}) string {
	return l.printer.Sprintf(string(key), args...)
}
