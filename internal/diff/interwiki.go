package diff

import (
	"regexp"
	"strings"
)

// Language prefixes recognised as interwiki links.
var interwikiCodes = []string{
	"aa", "ab", "ace", "ady", "af", "ak", "als", "am", "an", "ang", "ar", "arc", "arz", "as", "ast",
	"av", "ay", "az", "azb", "ba", "bar", "bat-smg", "bcl", "be", "be-tarask", "bg", "bh", "bi", "bjn",
	"bm", "bn", "bo", "bpy", "br", "bs", "bug", "bxr", "ca", "cbk-zam", "cdo", "ce", "ceb", "ch", "cho",
	"chr", "chy", "ckb", "co", "cr", "crh", "cs", "csb", "cu", "cv", "cy", "da", "de", "diq", "dsb",
	"dty", "dv", "dz", "ee", "el", "eml", "en", "eo", "es", "et", "eu", "ext", "fa", "ff", "fi",
	"fiu-vro", "fj", "fo", "fr", "frp", "frr", "fur", "fy", "ga", "gag", "gan", "gd", "gl", "glk", "gn",
	"gom", "got", "gu", "gv", "ha", "hak", "haw", "he", "hi", "hif", "ho", "hr", "hsb", "ht", "hu", "hy",
	"hz", "ia", "id", "ie", "ig", "ii", "ik", "ilo", "io", "is", "it", "iu", "ja", "jam", "jbo", "jv",
	"ka", "kaa", "kab", "kbd", "kg", "ki", "kj", "kk", "kl", "km", "kn", "ko", "koi", "kr", "krc", "ks",
	"ksh", "ku", "kv", "kw", "ky", "la", "lad", "lb", "lbe", "lez", "lg", "li", "lij", "lmo", "ln", "lo",
	"lrc", "lt", "ltg", "lv", "mai", "map-bms", "mdf", "mg", "mh", "mhr", "mi", "min", "mk", "ml", "mn",
	"mo", "mr", "mrj", "ms", "mt", "mus", "mwl", "my", "myv", "mzn", "na", "nah", "nap", "nds", "nds-nl",
	"ne", "new", "ng", "nl", "nn", "no", "nov", "nrm", "nso", "nv", "ny", "oc", "olo", "om", "or", "os",
	"pa", "pag", "pam", "pap", "pcd", "pdc", "pfl", "pi", "pih", "pl", "pms", "pnb", "pnt", "ps", "pt",
	"qu", "rm", "rmy", "rn", "ro", "roa-rup", "roa-tara", "ru", "rue", "rw", "sa", "sah", "sc", "scn",
	"sco", "sd", "se", "sg", "sh", "si", "simple", "sk", "sl", "sm", "sn", "so", "sq", "sr", "srn", "ss",
	"st", "stq", "su", "sv", "sw", "szl", "ta", "tcy", "te", "tet", "tg", "th", "ti", "tk", "tl", "tn",
	"to", "tpi", "tr", "ts", "tt", "tum", "tw", "ty", "tyv", "udm", "ug", "uk", "ur", "uz", "ve", "vec",
	"vep", "vi", "vls", "vo", "wa", "war", "wo", "wuu", "xal", "xh", "xmf", "yi", "yo", "za", "zea", "zh",
	"zh-classical", "zh-min-nan", "zh-yue", "zu",
}

var interwikiRe = regexp.MustCompile(`\[\[(?:` + quoteAll(interwikiCodes) + `):[^\]\n]*?\]\]`)

func quoteAll(codes []string) string {
	quoted := make([]string, len(codes))
	for i, c := range codes {
		quoted[i] = regexp.QuoteMeta(c)
	}
	return strings.Join(quoted, "|")
}

// StripInterwiki removes [[xx:Title]] language links and trims the result. Matching is
// case-sensitive; callers normalise case first.
func StripInterwiki(s string) string {
	return strings.TrimSpace(interwikiRe.ReplaceAllString(s, ""))
}

// IsInterwikiCode reports whether code is a known language prefix.
func IsInterwikiCode(code string) bool {
	for _, c := range interwikiCodes {
		if c == code {
			return true
		}
	}
	return false
}
