package datasets

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
)

// Category groups datasets by modality.
type Category string

const (
	CategoryImage          Category = "image"
	CategoryText           Category = "text"
	CategoryAudio          Category = "audio"
	CategoryTabular        Category = "tabular"
	CategoryMedical        Category = "medical"
	CategoryTimeseries     Category = "timeseries"
	CategoryCode           Category = "code"
	CategoryGraph          Category = "graph"
	CategorySecurity       Category = "security"
	CategoryRecommendation Category = "recommendation"
	CategoryMultilingual   Category = "multilingual"
)

// Info describes a catalog entry. Index is the dataset's value in the
// on-chain enumeration.
type Info struct {
	Name          string   `json:"name"`
	Index         uint8    `json:"index"`
	Category      Category `json:"category"`
	EstimatedSize uint64   `json:"estimated_size"`
	Minimal       bool     `json:"minimal"`
}

func (i Info) HumanSize() string {
	return humanize.Bytes(i.EstimatedSize)
}

type entry struct {
	name     string
	category Category
	size     string
	minimal  bool
}

// The position of each entry is its on-chain index. Never reorder.
var entries = [...]entry{
	{"Cifar10", CategoryImage, "170MB", true},
	{"Cifar100", CategoryImage, "170MB", false},
	{"Mnist", CategoryImage, "12MB", true},
	{"FashionMnist", CategoryImage, "30MB", true},
	{"Emnist", CategoryImage, "540MB", false},
	{"Kmnist", CategoryImage, "20MB", false},
	{"Food101", CategoryImage, "5GB", false},
	{"Flowers102", CategoryImage, "350MB", false},
	{"StanfordDogs", CategoryImage, "780MB", false},
	{"StanfordCars", CategoryImage, "1.9GB", false},
	{"OxfordPets", CategoryImage, "800MB", false},
	{"CatsVsDogs", CategoryImage, "820MB", false},
	{"Eurosat", CategoryImage, "90MB", false},
	{"Svhn", CategoryImage, "600MB", false},
	{"Caltech101", CategoryImage, "130MB", false},
	{"Caltech256", CategoryImage, "1.2GB", false},
	{"Imdb", CategoryText, "84MB", true},
	{"Sst2", CategoryText, "7MB", true},
	{"Sst5", CategoryText, "8MB", false},
	{"YelpReviews", CategoryText, "200MB", false},
	{"AmazonPolarity", CategoryText, "700MB", false},
	{"RottenTomatoes", CategoryText, "1MB", false},
	{"FinancialSentiment", CategoryText, "1MB", false},
	{"TweetSentiment", CategoryText, "4MB", false},
	{"AgNews", CategoryText, "30MB", true},
	{"Dbpedia", CategoryText, "70MB", false},
	{"YahooAnswers", CategoryText, "320MB", false},
	{"TwentyNewsgroups", CategoryText, "15MB", false},
	{"SmsSpam", CategoryText, "500KB", true},
	{"HateSpeech", CategoryText, "3MB", false},
	{"CivilComments", CategoryText, "400MB", false},
	{"Toxicity", CategoryText, "70MB", false},
	{"ClincIntent", CategoryText, "2MB", false},
	{"Banking77", CategoryText, "1MB", false},
	{"SnipsIntent", CategoryText, "2MB", false},
	{"Conll2003", CategoryText, "4MB", false},
	{"Wnut17", CategoryText, "1MB", false},
	{"Squad", CategoryText, "35MB", false},
	{"SquadV2", CategoryText, "45MB", false},
	{"TriviaQa", CategoryText, "2.6GB", false},
	{"BoolQ", CategoryText, "9MB", false},
	{"CommonsenseQa", CategoryText, "5MB", false},
	{"Stsb", CategoryText, "1MB", false},
	{"Mrpc", CategoryText, "1MB", false},
	{"Qqp", CategoryText, "60MB", false},
	{"Snli", CategoryText, "95MB", false},
	{"Mnli", CategoryText, "310MB", false},
	{"CnnDailymail", CategoryText, "1.3GB", false},
	{"Xsum", CategoryText, "510MB", false},
	{"Samsum", CategoryText, "3MB", false},
	{"SpeechCommands", CategoryAudio, "2.3GB", false},
	{"Librispeech", CategoryAudio, "6.3GB", false},
	{"CommonVoice", CategoryAudio, "20GB", false},
	{"Gtzan", CategoryAudio, "1.2GB", false},
	{"Esc50", CategoryAudio, "600MB", false},
	{"Urbansound8k", CategoryAudio, "5.6GB", false},
	{"Nsynth", CategoryAudio, "22GB", false},
	{"Ravdess", CategoryAudio, "1GB", false},
	{"CremaD", CategoryAudio, "2GB", false},
	{"Iemocap", CategoryAudio, "12GB", false},
	{"Iris", CategoryTabular, "5KB", true},
	{"Wine", CategoryTabular, "11KB", true},
	{"Diabetes", CategoryTabular, "25KB", false},
	{"BreastCancer", CategoryTabular, "125KB", false},
	{"CaliforniaHousing", CategoryTabular, "1.4MB", false},
	{"AdultIncome", CategoryTabular, "4MB", false},
	{"BankMarketing", CategoryTabular, "5MB", false},
	{"CreditDefault", CategoryTabular, "5.5MB", false},
	{"Titanic", CategoryTabular, "60KB", true},
	{"HeartDisease", CategoryTabular, "20KB", false},
	{"ChestXray", CategoryMedical, "1.2GB", false},
	{"SkinCancer", CategoryMedical, "2.7GB", false},
	{"DiabeticRetinopathy", CategoryMedical, "9GB", false},
	{"BrainTumor", CategoryMedical, "160MB", false},
	{"Malaria", CategoryMedical, "350MB", false},
	{"BloodCells", CategoryMedical, "110MB", false},
	{"CovidXray", CategoryMedical, "800MB", false},
	{"PubmedQa", CategoryMedical, "700MB", false},
	{"MedQa", CategoryMedical, "120MB", false},
	{"Electricity", CategoryTimeseries, "250MB", false},
	{"Weather", CategoryTimeseries, "13MB", false},
	{"StockPrices", CategoryTimeseries, "120MB", false},
	{"EcgHeartbeat", CategoryTimeseries, "100MB", false},
	{"CodeSearchNet", CategoryCode, "3.5GB", false},
	{"Humaneval", CategoryCode, "200KB", false},
	{"Mbpp", CategoryCode, "600KB", false},
	{"Spider", CategoryCode, "100MB", false},
	{"Cora", CategoryGraph, "170KB", false},
	{"Citeseer", CategoryGraph, "200KB", false},
	{"Qm9", CategoryGraph, "100MB", false},
	{"NslKdd", CategorySecurity, "20MB", false},
	{"CreditCardFraud", CategorySecurity, "150MB", false},
	{"Phishing", CategorySecurity, "1MB", false},
	{"Movielens1m", CategoryRecommendation, "6MB", false},
	{"Movielens100k", CategoryRecommendation, "5MB", false},
	{"Xnli", CategoryMultilingual, "470MB", false},
	{"AmazonReviewsMulti", CategoryMultilingual, "400MB", false},
	{"Sberquad", CategoryMultilingual, "40MB", false},
}

var (
	catalog []Info
	byName  map[string]Info
)

func init() {
	catalog = make([]Info, len(entries))
	byName = make(map[string]Info, len(entries))
	for i, e := range entries {
		size, err := humanize.ParseBytes(e.size)
		if err != nil {
			panic(fmt.Sprintf("dataset %s: invalid size %q: %v", e.name, e.size, err))
		}
		info := Info{
			Name:          e.name,
			Index:         uint8(i),
			Category:      e.category,
			EstimatedSize: size,
			Minimal:       e.minimal,
		}
		catalog[i] = info
		byName[e.name] = info
	}
}

// Catalog returns every known dataset ordered by on-chain index.
func Catalog() []Info {
	return append([]Info(nil), catalog...)
}

func Lookup(name string) (Info, bool) {
	info, ok := byName[name]
	return info, ok
}

// ByIndex resolves an on-chain dataset value.
func ByIndex(index uint8) (Info, bool) {
	if int(index) >= len(catalog) {
		return Info{}, false
	}
	return catalog[index], true
}

// Categories returns all categories in sorted order.
func Categories() []Category {
	seen := make(map[Category]struct{})
	var out []Category
	for _, info := range catalog {
		if _, ok := seen[info.Category]; !ok {
			seen[info.Category] = struct{}{}
			out = append(out, info.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
